// Package overlay turns a pose into a skeleton drawn over the camera preview: a circle per
// confident keypoint and a line per confident bone.
package overlay

import (
	"fmt"
	"html"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"golang.org/x/image/font/gofont/goregular"

	"go.viam.com/posecam/pose"
)

var font *truetype.Font

// init sets up the font labels are drawn with.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// MinKeypointScore is the score a keypoint must exceed to be drawn, alone or as a bone endpoint.
const MinKeypointScore = 0.2

// The scene's coordinate space is the model input resolution.
const (
	DefaultWidth  = 152
	DefaultHeight = 200
)

// Style is how joints and bones look.
type Style struct {
	JointColor  colorful.Color
	JointRadius float64
	BoneColor   colorful.Color
	BoneWidth   float64
	LabelSize   float64
}

// DefaultStyle draws blue joints of radius 2 and magenta bones of width 1.
var DefaultStyle = Style{
	JointColor:  colorful.Color{R: 0, G: 0, B: 1},
	JointRadius: 2,
	BoneColor:   colorful.Color{R: 1, G: 0, B: 1},
	BoneWidth:   1,
	LabelSize:   6,
}

// ParseStyle builds a style from hex colors. Empty colors and non-positive sizes keep the
// default.
func ParseStyle(jointHex, boneHex string, jointRadius, boneWidth float64) (Style, error) {
	style := DefaultStyle
	if jointHex != "" {
		c, err := colorful.Hex(jointHex)
		if err != nil {
			return Style{}, errors.Wrapf(err, "invalid joint color %q", jointHex)
		}
		style.JointColor = c
	}
	if boneHex != "" {
		c, err := colorful.Hex(boneHex)
		if err != nil {
			return Style{}, errors.Wrapf(err, "invalid bone color %q", boneHex)
		}
		style.BoneColor = c
	}
	if jointRadius > 0 {
		style.JointRadius = jointRadius
	}
	if boneWidth > 0 {
		style.BoneWidth = boneWidth
	}
	return style, nil
}

// Circle is a drawn joint.
type Circle struct {
	Part   string
	Center pose.Vector2D
	Radius float64
	Color  colorful.Color
}

// Line is a drawn bone.
type Line struct {
	From, To pose.Vector2D
	Width    float64
	Color    colorful.Color
}

// Label names a joint.
type Label struct {
	Text  string
	At    pose.Vector2D
	Size  float64
	Color colorful.Color
}

// Scene is everything to draw for one pose. Lines are drawn before circles, labels last.
type Scene struct {
	Width, Height int
	Lines         []Line
	Circles       []Circle
	Labels        []Label
}

// Empty reports whether the scene draws nothing.
func (s Scene) Empty() bool {
	return len(s.Lines) == 0 && len(s.Circles) == 0 && len(s.Labels) == 0
}

// Renderer builds scenes of a fixed size and style. With Labels set every drawn joint is named.
type Renderer struct {
	Width, Height int
	Style         Style
	Labels        bool
}

// Render builds the scene for p with the default size and style.
func Render(p *pose.Pose) Scene {
	return Renderer{Width: DefaultWidth, Height: DefaultHeight, Style: DefaultStyle}.Render(p)
}

// Render builds the scene for p. A nil pose gives an empty scene.
func (r Renderer) Render(p *pose.Pose) Scene {
	scene := Scene{Width: r.Width, Height: r.Height}
	if p == nil {
		return scene
	}
	for _, bone := range pose.AdjacentKeypoints(p.Keypoints, MinKeypointScore) {
		scene.Lines = append(scene.Lines, Line{
			From:  bone[0].Position,
			To:    bone[1].Position,
			Width: r.Style.BoneWidth,
			Color: r.Style.BoneColor,
		})
	}
	for _, kp := range pose.NewScoreFilter(MinKeypointScore)(p.Keypoints) {
		scene.Circles = append(scene.Circles, Circle{
			Part:   kp.Part,
			Center: kp.Position,
			Radius: r.Style.JointRadius,
			Color:  r.Style.JointColor,
		})
		if r.Labels {
			scene.Labels = append(scene.Labels, Label{
				Text:  kp.Part,
				At:    pose.Vector2D{X: kp.Position.X + r.Style.JointRadius + 1, Y: kp.Position.Y - r.Style.JointRadius - 1},
				Size:  r.Style.LabelSize,
				Color: r.Style.JointColor,
			})
		}
	}
	return scene
}

// WriteSVG writes the scene as an SVG document whose viewBox is the scene size.
func (s Scene) WriteSVG(w io.Writer) error {
	ew := &errWriter{w: w}
	ew.printf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" width="%d" height="%d">`+"\n",
		s.Width, s.Height, s.Width, s.Height)
	for _, l := range s.Lines {
		ew.printf(`  <line x1="%g" y1="%g" x2="%g" y2="%g" stroke="%s" stroke-width="%g"/>`+"\n",
			l.From.X, l.From.Y, l.To.X, l.To.Y, l.Color.Hex(), l.Width)
	}
	for _, c := range s.Circles {
		ew.printf(`  <circle cx="%g" cy="%g" r="%g" fill="%s"/>`+"\n",
			c.Center.X, c.Center.Y, c.Radius, c.Color.Hex())
	}
	for _, l := range s.Labels {
		ew.printf(`  <text x="%g" y="%g" font-size="%g" fill="%s">%s</text>`+"\n",
			l.At.X, l.At.Y, l.Size, l.Color.Hex(), html.EscapeString(l.Text))
	}
	ew.printf("</svg>\n")
	return errors.Wrap(ew.err, "writing svg")
}

type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

// Draw paints the scene onto dc, scaled from the scene size to the context size.
func (s Scene) Draw(dc *gg.Context) {
	if s.Width <= 0 || s.Height <= 0 {
		return
	}
	dc.Push()
	defer dc.Pop()
	dc.Scale(float64(dc.Width())/float64(s.Width), float64(dc.Height())/float64(s.Height))

	for _, l := range s.Lines {
		dc.SetColor(l.Color)
		dc.SetLineWidth(l.Width)
		dc.DrawLine(l.From.X, l.From.Y, l.To.X, l.To.Y)
		dc.Stroke()
	}
	for _, c := range s.Circles {
		dc.SetColor(c.Color)
		dc.DrawCircle(c.Center.X, c.Center.Y, c.Radius)
		dc.Fill()
	}
	for _, l := range s.Labels {
		dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: l.Size}))
		dc.SetColor(l.Color)
		dc.DrawString(l.Text, l.At.X, l.At.Y)
	}
}

// Image rasterizes the scene onto a transparent width x height image.
func (s Scene) Image(width, height int) image.Image {
	dc := gg.NewContext(width, height)
	s.Draw(dc)
	return dc.Image()
}

// WritePNG rasterizes the scene at width x height over background, if given, and encodes it as
// PNG.
func (s Scene) WritePNG(w io.Writer, background image.Image, width, height int) error {
	dc := gg.NewContext(width, height)
	if background != nil {
		if b := background.Bounds(); b.Dx() != width || b.Dy() != height {
			background = imaging.Resize(background, width, height, imaging.Linear)
		}
		dc.DrawImage(background, 0, 0)
	}
	s.Draw(dc)
	return errors.Wrap(dc.EncodePNG(w), "writing png")
}
