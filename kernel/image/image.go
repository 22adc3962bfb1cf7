// Package image describes the executable images that processes are built
// from. An image is just an entry point and a list of segments; the package
// does not care how the bytes were produced.
package image

import (
	"slices"

	"weensyos/kernel"
	"weensyos/kernel/mm"
)

var (
	// ErrUnknownProgram is returned by Load for names that were never
	// registered.
	ErrUnknownProgram = &kernel.Error{Module: "image", Message: "unknown program"}
)

// Segment is a region of the process address space initialized from the
// image. Bytes past len(Data) and up to Size are zero.
type Segment struct {
	VA       uintptr
	Size     uintptr
	Data     []byte
	Writable bool
}

// End returns the first address past the segment.
func (s Segment) End() uintptr {
	return s.VA + s.Size
}

// Image is a loadable program.
type Image struct {
	Name     string
	Entry    uintptr
	Segments []Segment
}

// Validate checks that every segment lies inside the process region below
// the stack page and that its data fits in its declared size.
func (img *Image) Validate() *kernel.Error {
	for i, seg := range img.Segments {
		switch {
		case seg.VA < mm.ProcStartAddr || seg.End() > mm.MemSizeVirtual-mm.PageSize || seg.End() < seg.VA:
			return kernel.Errorf("image", "%s: segment %d [%#x, %#x) outside the process region", img.Name, i, seg.VA, seg.End())
		case uintptr(len(seg.Data)) > seg.Size:
			return kernel.Errorf("image", "%s: segment %d holds %d bytes of data but is %d bytes long", img.Name, i, len(seg.Data), seg.Size)
		}
	}
	return nil
}

// Loader resolves program names to images.
type Loader interface {
	Load(name string) (*Image, *kernel.Error)
}

// Registry is a Loader backed by an in-memory table of images.
type Registry struct {
	images map[string]*Image
}

// NewRegistry returns a registry containing the supplied images.
func NewRegistry(images ...*Image) *Registry {
	r := &Registry{images: make(map[string]*Image, len(images))}
	for _, img := range images {
		r.Register(img)
	}
	return r
}

// Register adds img to the registry, replacing any image with the same name.
func (r *Registry) Register(img *Image) {
	r.images[img.Name] = img
}

// Load implements Loader.
func (r *Registry) Load(name string) (*Image, *kernel.Error) {
	img, ok := r.images[name]
	if !ok {
		return nil, kernel.Errorf(ErrUnknownProgram.Module, "%s %q", ErrUnknownProgram.Message, name)
	}
	return img, nil
}

// Has returns true if a program with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.images[name]
	return ok
}

// Names returns the registered program names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.images))
	for name := range r.images {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
