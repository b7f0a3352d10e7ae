// Package serializer implements Kirin's artifact-serializer plug-in
// mechanism (spec.md §4.4.6): a registry of encoders keyed by an in-memory
// artifact's concrete Go type, used by pkg/dataset to turn an add_files
// element that isn't a path or a (filename, bytes) tuple into stored bytes
// plus an optional metadata fragment.
//
// Grounded on spec.md's Design Notes §9 ("replace with a registered
// serializer table keyed by artifact variant") — Kirin has no dynamic-
// language "variant" to dispatch on, so the registry keys on reflect.Type
// instead. No direct teacher analogue; the two reference serializers below
// exist to demonstrate the mechanism without pulling in a real ML or
// plotting dependency (out of scope per spec.md §1).
package serializer

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"image"
	"image/png"
	"reflect"
)

// Result is what a Serializer produces for one artifact.
type Result struct {
	Filename string
	Data     []byte
	// Metadata is placed at metadata.models[variableName] by the caller
	// (pkg/dataset), per spec.md §4.4.1 step 5. Nil if the serializer has
	// nothing to extract.
	Metadata map[string]any
}

// Serializer turns an in-memory artifact into storable bytes plus an
// optional metadata fragment. variableName is the caller's binding name
// for the artifact (Kirin's stand-in for the Python "recover the caller's
// variable name" behavior spec.md §4.4.6 describes), used to derive a
// default filename when the caller doesn't supply one.
type Serializer interface {
	// Serialize encodes artifact. variableName may be empty, in which case
	// the serializer falls back to a generic name ("model.pkl" for
	// GobModelSerializer, "plot.png" for PNGPlotSerializer). The fallback
	// name is not disambiguated: two unnamed artifacts of the same kind in
	// one commit get the same filename, and the later one wins.
	Serialize(artifact any, variableName string) (Result, error)
}

// Registry dispatches an artifact to a Serializer by its concrete Go type.
type Registry struct {
	byType map[reflect.Type]Serializer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: map[reflect.Type]Serializer{}}
}

// Register associates every artifact of exactly sample's concrete type
// with s. Subsequent calls for the same type replace the prior entry.
func (r *Registry) Register(sample any, s Serializer) {
	r.byType[reflect.TypeOf(sample)] = s
}

// Lookup returns the Serializer registered for artifact's concrete type.
func (r *Registry) Lookup(artifact any) (Serializer, bool) {
	s, ok := r.byType[reflect.TypeOf(artifact)]
	return s, ok
}

// GobModelSerializer encodes an arbitrary struct value with encoding/gob,
// standing in for a real ML model serializer (out of scope per spec.md
// §1's "supporting automatic extraction ... is specified as an optional
// adapter").
//
// ExtractMetadata, when non-nil, is called on the artifact to produce the
// metadata fragment placed at metadata.models[variableName].
type GobModelSerializer struct {
	ExtractMetadata func(artifact any) map[string]any
}

func (g *GobModelSerializer) Serialize(artifact any, variableName string) (Result, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(artifact); err != nil {
		return Result{}, fmt.Errorf("serializer: gob encode: %w", err)
	}

	filename := variableName
	if filename == "" {
		filename = "model"
	}
	filename += ".pkl"

	var meta map[string]any
	if g.ExtractMetadata != nil {
		meta = g.ExtractMetadata(artifact)
	}

	return Result{Filename: filename, Data: buf.Bytes(), Metadata: meta}, nil
}

// PNGPlotSerializer encodes an image.Image as PNG, standing in for a real
// plotting library's save-to-raster convenience (out of scope per spec.md
// §1). It always emits a ".png" filename rather than attempting the
// original's ".svg"/".webp" vector-vs-raster split, since a raw
// image.Image carries no vector representation to fall back to.
type PNGPlotSerializer struct{}

func (PNGPlotSerializer) Serialize(artifact any, variableName string) (Result, error) {
	img, ok := artifact.(image.Image)
	if !ok {
		return Result{}, fmt.Errorf("serializer: PNGPlotSerializer requires an image.Image, got %T", artifact)
	}

	filename := variableName
	if filename == "" {
		filename = "plot"
	}
	filename += ".png"

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Result{}, fmt.Errorf("serializer: png encode: %w", err)
	}

	return Result{Filename: filename, Data: buf.Bytes()}, nil
}
