package device

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"shipnet/internal/model"
)

// ErrUnsupported is returned for accelerator targets this build cannot drive.
var ErrUnsupported = errors.New("device: unsupported target")

// Device is the compute target batches and parameters are placed onto.
type Device interface {
	Name() string
	PlaceBatch(b model.Batch) (model.Batch, error)
	PlaceParameters(params []*model.Parameter) error
}

// Parse resolves a device name.
func Parse(name string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cpu":
		return NewCPU(), nil
	case "cuda", "gpu", "mps":
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, name)
	default:
		return nil, fmt.Errorf("device: unknown target %q", name)
	}
}

// CPU runs everything in host memory.
type CPU struct {
	brand    string
	physical int
	logical  int
	avx2     bool
	avx512   bool
}

func NewCPU() *CPU {
	return &CPU{
		brand:    cpuid.CPU.BrandName,
		physical: cpuid.CPU.PhysicalCores,
		logical:  cpuid.CPU.LogicalCores,
		avx2:     cpuid.CPU.Supports(cpuid.AVX2),
		avx512:   cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
	}
}

func (c *CPU) Name() string { return "cpu" }

// Describe returns a one line summary for logs.
func (c *CPU) Describe() string {
	brand := c.brand
	if brand == "" {
		brand = "unknown"
	}
	return fmt.Sprintf("device=cpu brand=%q physical_cores=%d logical_cores=%d avx2=%t avx512=%t",
		brand, c.physical, c.logical, c.avx2, c.avx512)
}

// DefaultWorkers is the loader worker count used when none is configured.
func (c *CPU) DefaultWorkers() int {
	if c.physical > 0 {
		return c.physical
	}
	return runtime.NumCPU()
}

func (c *CPU) PlaceBatch(b model.Batch) (model.Batch, error) {
	if b.Inputs == nil {
		return model.Batch{}, errors.New("device: batch has no inputs")
	}
	if b.Size() != len(b.Labels) {
		return model.Batch{}, fmt.Errorf("device: batch has %d inputs and %d labels", b.Size(), len(b.Labels))
	}
	return b, nil
}

func (c *CPU) PlaceParameters(params []*model.Parameter) error {
	for _, p := range params {
		if p == nil || p.Value == nil {
			return errors.New("device: nil parameter")
		}
	}
	return nil
}
