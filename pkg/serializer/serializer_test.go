package serializer

import (
	"bytes"
	"encoding/gob"
	"image"
	"image/color"
	"testing"
)

type fakeModel struct {
	Weights []float64
	Epochs  int
}

func TestGobModelSerializer_RoundTrips(t *testing.T) {
	s := &GobModelSerializer{
		ExtractMetadata: func(artifact any) map[string]any {
			m := artifact.(fakeModel)
			return map[string]any{"epochs": m.Epochs}
		},
	}

	model := fakeModel{Weights: []float64{0.1, 0.2}, Epochs: 5}
	result, err := s.Serialize(model, "clf")
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if result.Filename != "clf.pkl" {
		t.Fatalf("unexpected filename: %s", result.Filename)
	}
	if result.Metadata["epochs"] != 5 {
		t.Fatalf("unexpected metadata: %v", result.Metadata)
	}

	var decoded fakeModel
	if err := gob.NewDecoder(bytes.NewReader(result.Data)).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Epochs != 5 || len(decoded.Weights) != 2 {
		t.Fatalf("round-trip mismatch: %+v", decoded)
	}
}

func TestGobModelSerializer_FallbackFilename(t *testing.T) {
	s := &GobModelSerializer{}
	result, err := s.Serialize(fakeModel{}, "")
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if result.Filename != "model.pkl" {
		t.Fatalf("expected fallback filename model.pkl, got %s", result.Filename)
	}
}

func TestPNGPlotSerializer_EncodesImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)

	result, err := PNGPlotSerializer{}.Serialize(img, "loss_curve")
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if result.Filename != "loss_curve.png" {
		t.Fatalf("unexpected filename: %s", result.Filename)
	}
	if len(result.Data) == 0 {
		t.Fatal("expected non-empty PNG bytes")
	}
	if !bytes.HasPrefix(result.Data, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatal("expected a valid PNG signature")
	}
}

func TestPNGPlotSerializer_RejectsNonImage(t *testing.T) {
	_, err := PNGPlotSerializer{}.Serialize("not an image", "x")
	if err == nil {
		t.Fatal("expected error for non-image.Image artifact")
	}
}

func TestRegistry_LookupByConcreteType(t *testing.T) {
	r := NewRegistry()
	gobSer := &GobModelSerializer{}
	r.Register(fakeModel{}, gobSer)

	found, ok := r.Lookup(fakeModel{Epochs: 1})
	if !ok || found != gobSer {
		t.Fatalf("expected Lookup to resolve fakeModel to the registered serializer")
	}

	_, ok = r.Lookup("a string")
	if ok {
		t.Fatal("expected no serializer registered for string")
	}
}
