package media

import (
	"bytes"
	"image"
	"log"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// Metadata is what the pipeline records about a stored image besides its hashes.
type Metadata struct {
	Width          *int
	Height         *int
	TakenAt        *int64
	PerceptualHash *int64
}

// ExtractMetadata reads dimensions, EXIF capture time and a difference hash. Every field is
// best effort; missing data leaves it nil.
func ExtractMetadata(data []byte) Metadata {
	var meta Metadata

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		w, h := cfg.Width, cfg.Height
		meta.Width, meta.Height = &w, &h
	}

	if x, err := exif.Decode(bytes.NewReader(data)); err == nil {
		if dt, err := x.DateTime(); err == nil {
			ts := dt.Unix()
			meta.TakenAt = &ts
		}
	}

	if img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true)); err == nil {
		if hash, err := goimagehash.DifferenceHash(img); err == nil {
			v := int64(hash.GetHash())
			meta.PerceptualHash = &v
		} else {
			log.Printf("media.metadata: dhash failed: %v", err)
		}
	}

	return meta
}

// HashDistance is the Hamming distance between two stored difference hashes.
func HashDistance(a, b int64) int {
	ha := goimagehash.NewImageHash(uint64(a), goimagehash.DHash)
	hb := goimagehash.NewImageHash(uint64(b), goimagehash.DHash)
	d, err := ha.Distance(hb)
	if err != nil {
		return 64
	}
	return d
}
