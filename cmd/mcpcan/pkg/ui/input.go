package ui

import (
	"strings"

	"github.com/jroimartin/gocui"
)

// Input is a single line text box. Accept, when set, filters typed runes.
type Input struct {
	Name      string
	Title     string
	X, Y      int
	W         int
	MaxLength int
	Accept    func(ch rune) bool
}

// NewInput returns an input w cells wide. The position is set by the caller's
// layout through Place.
func NewInput(name, title string, w, maxLength int, accept func(ch rune) bool) *Input {
	return &Input{Name: name, Title: title, W: w, MaxLength: maxLength, Accept: accept}
}

// Place moves the input and lays it out.
func (i *Input) Place(g *gocui.Gui, x, y int) error {
	i.X, i.Y = x, y
	return i.Layout(g)
}

func (i *Input) Layout(g *gocui.Gui) error {
	v, err := g.SetView(i.Name, i.X, i.Y, i.X+i.W, i.Y+2)
	if err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = i.Title
		v.Editor = i
		v.Editable = true
	}
	return nil
}

func (i *Input) Edit(v *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) {
	cx, _ := v.Cursor()
	ox, _ := v.Origin()
	limit := ox+cx+1 > i.MaxLength
	switch {
	case ch != 0 && mod == 0 && !limit:
		if i.Accept == nil || i.Accept(ch) {
			v.EditWrite(ch)
		}
	case key == gocui.KeySpace && !limit:
		if i.Accept == nil || i.Accept(' ') {
			v.EditWrite(' ')
		}
	case key == gocui.KeyBackspace || key == gocui.KeyBackspace2:
		v.EditDelete(true)
	case key == gocui.KeyArrowLeft:
		v.MoveCursor(-1, 0, false)
	case key == gocui.KeyArrowRight:
		v.MoveCursor(1, 0, false)
	}
}

// Value returns the trimmed text of the input view.
func Value(v *gocui.View) string {
	return strings.TrimSpace(v.Buffer())
}

// Set replaces the text of the input view and puts the cursor after it.
func Set(v *gocui.View, text string) {
	Reset(v)
	v.Write([]byte(text))
	v.SetCursor(len(text), 0)
}

// Reset empties the input view.
func Reset(v *gocui.View) {
	v.Clear()
	v.SetCursor(0, 0)
	v.SetOrigin(0, 0)
}

// HexDigit accepts the characters allowed in a frame id.
func HexDigit(ch rune) bool {
	return ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'f' || ch >= 'A' && ch <= 'F'
}

// Digit accepts decimal digits.
func Digit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

// Number accepts decimal digits and spaces.
func Number(ch rune) bool {
	return Digit(ch) || ch == ' '
}

// ByteList accepts space separated decimal or 0x prefixed hex bytes.
func ByteList(ch rune) bool {
	return HexDigit(ch) || ch == ' ' || ch == 'x' || ch == 'X'
}
