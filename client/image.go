package client

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
)

// EncodeImage converts an image into the base64 PNG form the terminal
// expects in PRINT_IMAGE payloads.
func EncodeImage(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", wrapError(InvalidData, err, "failed to encode image")
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
