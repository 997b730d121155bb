package classify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/database"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/media"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/models"
)

func TestNormalizeLabel(t *testing.T) {
	cases := map[string]string{
		"face_female":            "FACE_FEMALE",
		" Female Breast-Exposed": "FEMALE_BREAST_EXPOSED",
		"BELLY__COVERED":         "BELLY_COVERED",
		"":                       "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeLabel(in), in)
	}
	assert.Equal(t, map[string]bool{"FACE_MALE": true}, IgnoredSet([]string{"face male", " "}))
}

func TestDecide(t *testing.T) {
	t.Run("nothing found", func(t *testing.T) {
		v := Decide(nil)
		assert.Equal(t, database.ResultSafe, v.Result)
		assert.Equal(t, 1.0, v.SafeScore)
		assert.Zero(t, v.UnsafeScore)
	})

	t.Run("only ignored labels", func(t *testing.T) {
		v := Decide([]models.Detection{{Label: "FACE_MALE", Score: 0.99, Ignored: true}})
		assert.Equal(t, database.ResultSafe, v.Result)
		assert.Equal(t, 1.0, v.SafeScore)
	})

	t.Run("max non-ignored score wins", func(t *testing.T) {
		v := Decide([]models.Detection{
			{Label: "FACE_FEMALE", Score: 0.7},
			{Label: "FACE_MALE", Score: 0.99, Ignored: true},
			{Label: "FACE_FEMALE", Score: 0.9},
		})
		assert.Equal(t, database.ResultUnsafe, v.Result)
		assert.Zero(t, v.SafeScore)
		assert.Equal(t, 0.9, v.UnsafeScore)
	})
}

func TestParseResponse(t *testing.T) {
	t.Run("prediction wrapper", func(t *testing.T) {
		got, err := ParseResponse([]byte(`{"prediction":[{"class":"face_female","score":0.91,"box":[10,20,30,40]}]}`))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "FACE_FEMALE", got[0].Label)
		assert.Equal(t, 0.91, got[0].Score)
		assert.Equal(t, &media.Box{X1: 10, Y1: 20, X2: 30, Y2: 40}, got[0].Box)
	})

	t.Run("bare array with width and height boxes", func(t *testing.T) {
		got, err := ParseResponse([]byte(`[{"label":"BELLY_EXPOSED","score":0.5,"box":[100,120,30,40]}]`))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, &media.Box{X1: 100, Y1: 120, X2: 130, Y2: 160}, got[0].Box)
	})

	t.Run("nested per-image lists", func(t *testing.T) {
		got, err := ParseResponse([]byte(`{"prediction":[[{"label":"A","score":0.1},{"label":"B","score":0.2}]]}`))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Nil(t, got[0].Box)
		assert.Equal(t, "B", got[1].Label)
	})

	t.Run("empty", func(t *testing.T) {
		got, err := ParseResponse([]byte(`{"prediction":[]}`))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	for name, body := range map[string]string{
		"no prediction key": `{"detections":[]}`,
		"missing score":     `[{"label":"A"}]`,
		"missing label":     `[{"score":0.3}]`,
		"scalar":            `42`,
		"html":              `<html>oops</html>`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseResponse([]byte(body))
			assert.ErrorIs(t, err, ErrBadResponse)
		})
	}
}

func TestNormalizeBox(t *testing.T) {
	assert.Nil(t, NormalizeBox([]float64{5, 5, 0, 0}))
	assert.Equal(t, &media.Box{X1: 0, Y1: 0, X2: 10, Y2: 12}, NormalizeBox([]float64{-3, -1, 10, 12}))
	assert.Equal(t, &media.Box{X1: 1, Y1: 2, X2: 3, Y2: 4}, NormalizeBox([]float64{1.2, 2.4, 3.4, 4.4}))
}

func TestClientDetect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case healthPath:
			w.Write([]byte(`{"status":"ok"}`))
		case detectPath:
			assert.Equal(t, http.MethodPost, r.Method)
			file, header, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer file.Close()
			body, _ := io.ReadAll(file)
			assert.Equal(t, "pic.jpg", header.Filename)
			assert.Equal(t, "payload", string(body))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"prediction": []map[string]interface{}{{"label": "FACE_MALE", "score": 0.8, "box": []int{1, 2, 3, 4}}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	require.NoError(t, c.Health(context.Background()))

	got, err := c.Detect(context.Background(), "pic.jpg", []byte("payload"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "FACE_MALE", got[0].Label)
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	c := NewClient(srv.URL, time.Second)

	assert.ErrorIs(t, c.Health(context.Background()), ErrDetectorUnavailable)
	_, err := c.Detect(context.Background(), "x.jpg", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	srv.Close()
	assert.ErrorIs(t, c.Health(context.Background()), ErrDetectorUnavailable)
}
