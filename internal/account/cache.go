package account

import (
	"context"
	"log"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 256

// CachedDirectory keeps recently resolved doctors in a bounded LRU. Patient
// lookups are passed straight through.
type CachedDirectory struct {
	next    Directory
	doctors *lru.Cache[uuid.UUID, *Doctor]
}

func NewCachedDirectory(next Directory, size int) (*CachedDirectory, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[uuid.UUID, *Doctor](size)
	if err != nil {
		return nil, err
	}
	return &CachedDirectory{next: next, doctors: cache}, nil
}

func (c *CachedDirectory) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	if d, ok := c.doctors.Get(id); ok {
		cp := *d
		return &cp, nil
	}

	d, err := c.next.GetDoctorByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if evicted := c.doctors.Add(id, d); evicted {
		log.Printf("doctor cache full, evicted oldest entry size=%d", c.doctors.Len())
	}
	cp := *d
	return &cp, nil
}

func (c *CachedDirectory) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return c.next.GetPatientByID(ctx, id)
}

// Invalidate drops a cached doctor, e.g. after its approval status changed.
func (c *CachedDirectory) Invalidate(id uuid.UUID) {
	c.doctors.Remove(id)
}

var _ Directory = (*CachedDirectory)(nil)
