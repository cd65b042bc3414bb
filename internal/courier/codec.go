package courier

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"time"
	"unicode/utf8"

	"github.com/hay-kot/courier/internal/core/message"
)

// JPEGQuality is the quality used by EncodeJPEG.
const JPEGQuality = 90

var errNotLocation = errors.New("part is not a location")

// Coordinate is a geographic position in degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

type locationPayload struct {
	Lat      float64        `json:"lat"`
	Lon      float64        `json:"lon"`
	UserInfo map[string]any `json:"userInfo,omitempty"`
}

// EncodeText encodes s as a text/plain part. The empty string is valid and
// produces an empty payload.
func EncodeText(s string) (message.Part, error) {
	if !utf8.ValidString(s) {
		return message.Part{}, ErrUnableToCreateMessage
	}
	return message.Part{MIMEType: message.MIMEText, Data: []byte(s)}, nil
}

// EncodeImage encodes img as an image/png part.
func EncodeImage(img image.Image) (message.Part, error) {
	if img == nil {
		return message.Part{}, ErrUnableToCreateMessage
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return message.Part{}, ErrUnableToCreateMessage
	}
	return message.Part{MIMEType: message.MIMEImagePNG, Data: buf.Bytes()}, nil
}

// EncodeJPEG encodes img as an image/jpeg part.
func EncodeJPEG(img image.Image) (message.Part, error) {
	if img == nil || img.Bounds().Empty() {
		return message.Part{}, ErrUnableToCreateMessage
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return message.Part{}, ErrUnableToCreateMessage
	}
	return message.Part{MIMEType: message.MIMEImageJPEG, Data: buf.Bytes()}, nil
}

// EncodeLocation encodes a coordinate and optional metadata as a
// location/coordinate part holding indented JSON.
func EncodeLocation(c Coordinate, userInfo map[string]any) (message.Part, error) {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return message.Part{}, ErrUnableToCreateMessage
	}

	data, err := json.MarshalIndent(locationPayload{Lat: c.Lat, Lon: c.Lon, UserInfo: userInfo}, "", "  ")
	if err != nil {
		return message.Part{}, ErrUnableToCreateMessage
	}
	return message.Part{MIMEType: message.MIMELocation, Data: data}, nil
}

// EncodeDate encodes t as a text/date part in RFC 3339 form.
func EncodeDate(t time.Time) (message.Part, error) {
	data, err := t.MarshalText()
	if err != nil {
		return message.Part{}, ErrUnableToCreateMessage
	}
	return message.Part{MIMEType: message.MIMEDate, Data: data}, nil
}

// DecodeLocation parses a location/coordinate part.
func DecodeLocation(p message.Part) (Coordinate, map[string]any, error) {
	if p.MIMEType != message.MIMELocation {
		return Coordinate{}, nil, errNotLocation
	}

	var payload locationPayload
	if err := json.Unmarshal(p.Data, &payload); err != nil {
		return Coordinate{}, nil, err
	}
	return Coordinate{Lat: payload.Lat, Lon: payload.Lon}, payload.UserInfo, nil
}
