package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/georoute-io/georoute/internal/metadata"
	"github.com/georoute-io/georoute/internal/metadata/keys"
	"github.com/georoute-io/georoute/internal/objectstore"
)

// HealthCheckKey is read by MetadataStoreChecker. It never exists.
const HealthCheckKey = keys.Prefix + "/health-check"

// MetadataStoreChecker reports ready when the KV store answers a Get.
type MetadataStoreChecker struct {
	store metadata.MetadataStore
}

// NewMetadataStoreChecker creates a new MetadataStoreChecker.
func NewMetadataStoreChecker(store metadata.MetadataStore) *MetadataStoreChecker {
	return &MetadataStoreChecker{store: store}
}

func (c *MetadataStoreChecker) Name() string {
	return "metadata_store"
}

// CheckReady performs a Get on HealthCheckKey. A missing key is a normal
// answer; only transport or store errors fail the check.
func (c *MetadataStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("metadata store not configured")
	}
	_, err := c.store.Get(ctx, HealthCheckKey)
	if err != nil && !errors.Is(err, metadata.ErrKeyNotFound) {
		return err
	}
	return nil
}

// Pinger is implemented by object stores with a cheap reachability check.
// *s3.Store implements it with HeadBucket.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ObjectStoreChecker reports ready when the object store is reachable.
type ObjectStoreChecker struct {
	store objectstore.Store
}

// NewObjectStoreChecker creates a new ObjectStoreChecker.
func NewObjectStoreChecker(store objectstore.Store) *ObjectStoreChecker {
	return &ObjectStoreChecker{store: store}
}

func (c *ObjectStoreChecker) Name() string {
	return "object_store"
}

// CheckReady pings the store when it supports it and otherwise lists a
// prefix that holds nothing.
func (c *ObjectStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("object store not configured")
	}
	if p, ok := c.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := c.store.List(ctx, "georoute-health-check-nonexistent/")
	if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return err
	}
	return nil
}

// RegionCounter reports how many regions are loaded. *region.Directory
// implements it.
type RegionCounter interface {
	Len() int
}

// DirectoryChecker reports ready once at least one region is loaded.
type DirectoryChecker struct {
	regions RegionCounter
}

// NewDirectoryChecker creates a new DirectoryChecker.
func NewDirectoryChecker(regions RegionCounter) *DirectoryChecker {
	return &DirectoryChecker{regions: regions}
}

func (c *DirectoryChecker) Name() string {
	return "region_directory"
}

func (c *DirectoryChecker) CheckReady(context.Context) error {
	if c.regions == nil {
		return errors.New("region directory not configured")
	}
	if n := c.regions.Len(); n == 0 {
		return fmt.Errorf("no regions loaded")
	}
	return nil
}

// FuncChecker wraps a function as a ReadinessChecker.
type FuncChecker struct {
	name  string
	check func(context.Context) error
}

// NewFuncChecker creates a new FuncChecker with the given name and check function.
func NewFuncChecker(name string, check func(context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check}
}

func (c *FuncChecker) Name() string {
	return c.name
}

// CheckReady calls the wrapped function. A nil function is always ready.
func (c *FuncChecker) CheckReady(ctx context.Context) error {
	if c.check == nil {
		return nil
	}
	return c.check(ctx)
}
