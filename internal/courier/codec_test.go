package courier

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/courier/internal/core/message"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img
}

func TestEncodeText(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "plain", in: "hello"},
		{name: "empty", in: ""},
		{name: "unicode", in: "héllo 👋"},
		{name: "invalid utf8", in: "\xff\xfe", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			part, err := EncodeText(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnableToCreateMessage)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, message.MIMEText, part.MIMEType)
			assert.Equal(t, tt.in, string(part.Data))
			assert.Len(t, part.Data, len(tt.in))
		})
	}
}

func TestEncodeImage(t *testing.T) {
	part, err := EncodeImage(testImage())
	require.NoError(t, err)
	assert.Equal(t, message.MIMEImagePNG, part.MIMEType)

	decoded, err := png.Decode(bytes.NewReader(part.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), decoded.Bounds())

	_, err = EncodeImage(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	assert.ErrorIs(t, err, ErrUnableToCreateMessage)

	_, err = EncodeImage(nil)
	assert.ErrorIs(t, err, ErrUnableToCreateMessage)
}

func TestEncodeJPEG(t *testing.T) {
	part, err := EncodeJPEG(testImage())
	require.NoError(t, err)
	assert.Equal(t, message.MIMEImageJPEG, part.MIMEType)

	_, err = jpeg.Decode(bytes.NewReader(part.Data))
	require.NoError(t, err)

	_, err = EncodeJPEG(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	assert.ErrorIs(t, err, ErrUnableToCreateMessage)
}

func TestEncodeLocation(t *testing.T) {
	part, err := EncodeLocation(Coordinate{Lat: 52.52, Lon: 13.405}, map[string]any{"name": "Berlin"})
	require.NoError(t, err)
	assert.Equal(t, message.MIMELocation, part.MIMEType)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(part.Data, &doc))
	assert.InDelta(t, 52.52, doc["lat"], 1e-9)
	assert.InDelta(t, 13.405, doc["lon"], 1e-9)
	assert.Equal(t, map[string]any{"name": "Berlin"}, doc["userInfo"])

	coord, info, err := DecodeLocation(part)
	require.NoError(t, err)
	assert.Equal(t, Coordinate{Lat: 52.52, Lon: 13.405}, coord)
	assert.Equal(t, "Berlin", info["name"])

	t.Run("without user info", func(t *testing.T) {
		part, err := EncodeLocation(Coordinate{Lat: 1, Lon: 2}, nil)
		require.NoError(t, err)
		assert.NotContains(t, string(part.Data), "userInfo")
	})

	t.Run("not a number", func(t *testing.T) {
		_, err := EncodeLocation(Coordinate{Lat: math.NaN(), Lon: 0}, nil)
		assert.ErrorIs(t, err, ErrUnableToCreateMessage)
	})

	t.Run("unencodable user info", func(t *testing.T) {
		_, err := EncodeLocation(Coordinate{Lat: 1, Lon: 2}, map[string]any{"ch": make(chan int)})
		assert.ErrorIs(t, err, ErrUnableToCreateMessage)
	})
}

func TestEncodeDate(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	part, err := EncodeDate(ts)
	require.NoError(t, err)
	assert.Equal(t, message.MIMEDate, part.MIMEType)
	assert.Equal(t, "2024-03-01T12:30:00Z", string(part.Data))

	_, err = EncodeDate(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrUnableToCreateMessage)
}
