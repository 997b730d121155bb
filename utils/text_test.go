package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearchKey(t *testing.T) {
	assert.Equal(t, "jose perez", SearchKey("  José   PÉREZ "))
	assert.Equal(t, "sao paulo/2024", SearchKey("São Paulo/2024"))
	assert.Equal(t, "", SearchKey("   "))
}

func TestNaturalSort(t *testing.T) {
	items := []string{"img10.jpg", "img2.jpg", "img1.jpg"}
	NaturalSort(items)
	assert.Equal(t, []string{"img1.jpg", "img2.jpg", "img10.jpg"}, items)
	assert.True(t, NaturalLess("a2", "a10"))
}
