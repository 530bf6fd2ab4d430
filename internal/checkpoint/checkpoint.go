// Package checkpoint persists model parameters through a blob store.
package checkpoint

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	"k8s.io/klog/v2"

	"github.com/danielsnider/algorithmic-efficiency/internal/blobs"
	"github.com/danielsnider/algorithmic-efficiency/internal/spec"
)

func init() {
	var n name
	serializer.RegisterTypedDeserializer(n.SerializerType(), deserializeName)
}

// name is a serialized string: the architecture or a parameter key.
type name string

func deserializeName(d []byte) (name, error) {
	return name(d), nil
}

func (n name) SerializerType() string {
	return "github.com/danielsnider/algorithmic-efficiency/internal/checkpoint.name"
}

func (n name) Serialize() ([]byte, error) {
	return []byte(n), nil
}

// buffered containers carry state that is not trained by gradient descent,
// such as batch-norm running statistics.
type buffered interface {
	NamedBuffers() []spec.Parameter
}

// entries lists the parameters followed by any buffers.
func entries(params spec.ParameterContainer) []spec.Parameter {
	named := params.NamedParameters()
	if b, ok := params.(buffered); ok {
		named = append(named, b.NamedBuffers()...)
	}
	return named
}

// Key is the blob key for the checkpoint written at step.
func Key(step int) string {
	return fmt.Sprintf("checkpoints/step-%08d.ckpt", step)
}

// Encode serializes the step, architecture name and every named parameter
// and buffer.
func Encode(step int, arch string, params spec.ParameterContainer) ([]byte, error) {
	named := entries(params)
	items := make([]serializer.Serializer, 0, 2+2*len(named))
	items = append(items, serializer.Int(step), name(arch))
	for _, p := range named {
		items = append(items, name(p.Key), &anyvecsave.S{Vector: p.Var.Vector})
	}
	data, err := serializer.SerializeSlice(items)
	if err != nil {
		return nil, essentials.AddCtx("encode checkpoint", err)
	}
	return data, nil
}

// Decode restores parameters in place and returns the saved step. The
// checkpoint must hold exactly the keys and sizes of params.
func Decode(data []byte, arch string, params spec.ParameterContainer) (int, error) {
	items, err := serializer.DeserializeSlice(data)
	if err != nil {
		return 0, essentials.AddCtx("decode checkpoint", err)
	}
	named := entries(params)
	if len(items) != 2+2*len(named) {
		return 0, fmt.Errorf("decode checkpoint: %d entries for %d parameters", len(items), len(named))
	}
	step, ok := items[0].(serializer.Int)
	if !ok {
		return 0, fmt.Errorf("decode checkpoint: step has type %T", items[0])
	}
	savedArch, ok := items[1].(name)
	if !ok {
		return 0, fmt.Errorf("decode checkpoint: arch has type %T", items[1])
	}
	if string(savedArch) != arch {
		return 0, fmt.Errorf("decode checkpoint: saved for arch %q, model is %q", savedArch, arch)
	}

	// Validate everything before touching the parameters.
	vecs := make([]*anyvecsave.S, len(named))
	for i, p := range named {
		key, ok := items[2+2*i].(name)
		if !ok || spec.ParameterKey(key) != p.Key {
			return 0, fmt.Errorf("decode checkpoint: entry %d is %v, want key %s", i, items[2+2*i], p.Key)
		}
		vec, ok := items[3+2*i].(*anyvecsave.S)
		if !ok {
			return 0, fmt.Errorf("decode checkpoint: %s has type %T", p.Key, items[3+2*i])
		}
		if vec.Vector.Len() != p.Var.Vector.Len() {
			return 0, fmt.Errorf("decode checkpoint: %s has %d values, want %d", p.Key, vec.Vector.Len(), p.Var.Vector.Len())
		}
		vecs[i] = vec
	}
	for i, p := range named {
		p.Var.Vector.Set(vecs[i].Vector)
	}
	return int(step), nil
}

// Save writes a checkpoint for step to store.
func Save(ctx context.Context, store blobs.Store, step int, arch string, params spec.ParameterContainer) (string, error) {
	data, err := Encode(step, arch, params)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp("", "checkpoint")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	key := Key(step)
	if err := store.Upload(ctx, tmp.Name(), key); err != nil {
		return "", err
	}
	klog.FromContext(ctx).Info("Saved checkpoint", "step", step, "url", store.URL(key), "bytes", len(data))
	return key, nil
}

// Load restores params from the checkpoint stored under key.
func Load(ctx context.Context, store blobs.Store, key string, arch string, params spec.ParameterContainer) (int, error) {
	dir, err := os.MkdirTemp("", "checkpoint")
	if err != nil {
		return 0, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, "ckpt")
	if err := store.Download(ctx, key, local); err != nil {
		return 0, err
	}
	f, err := os.Open(local)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, fmt.Errorf("reading checkpoint: %w", err)
	}
	step, err := Decode(data, arch, params)
	if err != nil {
		return 0, err
	}
	klog.FromContext(ctx).Info("Loaded checkpoint", "step", step, "url", store.URL(key))
	return step, nil
}
