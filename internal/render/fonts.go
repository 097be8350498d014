package render

import (
	"fmt"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// Faces bundles the three type sizes the view uses.
type Faces struct {
	Title  font.Face
	Body   font.Face
	Footer font.Face
}

// loadFaces builds the font set. A configured TTF path is used for all three
// sizes; otherwise the bundled Go fonts are used (bold for headers). A
// missing or unparseable font asset is a *Error.
func loadFaces(fontPath string, titleSize, bodySize, footerSize int) (Faces, error) {
	var titleTTF, textTTF []byte

	if fontPath != "" {
		data, err := os.ReadFile(fontPath)
		if err != nil {
			return Faces{}, &Error{Op: "load font", Err: err}
		}
		titleTTF, textTTF = data, data
	} else {
		titleTTF, textTTF = gobold.TTF, goregular.TTF
	}

	title, err := newFace(titleTTF, titleSize)
	if err != nil {
		return Faces{}, err
	}
	body, err := newFace(textTTF, bodySize)
	if err != nil {
		return Faces{}, err
	}
	footer, err := newFace(textTTF, footerSize)
	if err != nil {
		return Faces{}, err
	}

	return Faces{Title: title, Body: body, Footer: footer}, nil
}

func newFace(ttf []byte, size int) (font.Face, error) {
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, &Error{Op: "parse font", Err: err}
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, &Error{Op: fmt.Sprintf("font face size %d", size), Err: err}
	}
	return face, nil
}
