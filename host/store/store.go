// Package store keeps attribute profiles and a log of completed captures
// in a bbolt database.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"iioboard/host/log"
	"iioboard/iio"
)

const (
	profileBucketPrefix = "profile_"
	captureBucket       = "captures"
	globalKey           = "global"
)

// ErrNotFound is returned for a profile that was never saved
var ErrNotFound = errors.New("not found")

// Store is an open database
type Store struct {
	DB *bbolt.DB
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(captureBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.DB.Close()
}

func bucketName(device string) []byte {
	return []byte(profileBucketPrefix + device)
}

// AttrValue is one saved attribute. Channel is iio.GlobalChannel for a
// device attribute.
type AttrValue struct {
	Channel int    `json:"channel"`
	Attr    string `json:"attr"`
	Value   string `json:"value"`
}

// Key is the chan/attr form used in the database
func (a AttrValue) Key() string {
	if a.Channel == iio.GlobalChannel {
		return globalKey + "/" + a.Attr
	}
	return strconv.Itoa(a.Channel) + "/" + a.Attr
}

func parseKey(k string) (AttrValue, error) {
	parts := strings.SplitN(k, "/", 2)
	if len(parts) != 2 {
		return AttrValue{}, fmt.Errorf("bad key %q", k)
	}
	if parts[0] == globalKey {
		return AttrValue{Channel: iio.GlobalChannel, Attr: parts[1]}, nil
	}
	ch, err := strconv.Atoi(parts[0])
	if err != nil {
		return AttrValue{}, fmt.Errorf("bad key %q: %w", k, err)
	}
	return AttrValue{Channel: ch, Attr: parts[1]}, nil
}

// Profile is a named set of attribute values for one device
type Profile struct {
	Device string      `json:"device"`
	Name   string      `json:"name"`
	Attrs  []AttrValue `json:"attrs"`
}

// SaveProfile replaces the profile of the same name
func (s *Store) SaveProfile(p Profile) error {
	if p.Device == "" || p.Name == "" {
		return fmt.Errorf("profile needs a device and a name: %w", iio.ErrInvalid)
	}
	log.Debug("Saving profile %s/%s: %d attributes", p.Device, p.Name, len(p.Attrs))
	return s.DB.Update(func(tx *bbolt.Tx) error {
		dev, err := tx.CreateBucketIfNotExists(bucketName(p.Device))
		if err != nil {
			return err
		}
		if dev.Bucket([]byte(p.Name)) != nil {
			if err := dev.DeleteBucket([]byte(p.Name)); err != nil {
				return err
			}
		}
		b, err := dev.CreateBucket([]byte(p.Name))
		if err != nil {
			return err
		}
		for _, a := range p.Attrs {
			if err := b.Put([]byte(a.Key()), []byte(a.Value)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Profile loads a profile. Attributes come back ordered by key with the
// device attributes last.
func (s *Store) Profile(device, name string) (Profile, error) {
	p := Profile{Device: device, Name: name}
	err := s.DB.View(func(tx *bbolt.Tx) error {
		dev := tx.Bucket(bucketName(device))
		if dev == nil {
			return fmt.Errorf("profile %s/%s: %w", device, name, ErrNotFound)
		}
		b := dev.Bucket([]byte(name))
		if b == nil {
			return fmt.Errorf("profile %s/%s: %w", device, name, ErrNotFound)
		}
		return b.ForEach(func(k, v []byte) error {
			a, err := parseKey(string(k))
			if err != nil {
				return err
			}
			a.Value = string(v)
			p.Attrs = append(p.Attrs, a)
			return nil
		})
	})
	return p, err
}

// Profiles lists the profile names saved for device
func (s *Store) Profiles(device string) ([]string, error) {
	var names []string
	err := s.DB.View(func(tx *bbolt.Tx) error {
		dev := tx.Bucket(bucketName(device))
		if dev == nil {
			return nil
		}
		return dev.ForEach(func(k, v []byte) error {
			if v == nil {
				names = append(names, string(k))
			}
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}

// DeleteProfile removes a profile
func (s *Store) DeleteProfile(device, name string) error {
	return s.DB.Update(func(tx *bbolt.Tx) error {
		dev := tx.Bucket(bucketName(device))
		if dev == nil || dev.Bucket([]byte(name)) == nil {
			return fmt.Errorf("profile %s/%s: %w", device, name, ErrNotFound)
		}
		return dev.DeleteBucket([]byte(name))
	})
}

// CaptureRecord is the metadata of one completed capture
type CaptureRecord struct {
	ID      uint64    `json:"id"`
	Time    time.Time `json:"time"`
	Device  string    `json:"device"`
	Mode    string    `json:"mode"`
	Mask    uint32    `json:"mask"`
	Scans   int       `json:"scans"`
	Overrun bool      `json:"overrun"`
	Path    string    `json:"path,omitempty"`
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// LogCapture appends a record and returns its ID
func (s *Store) LogCapture(rec CaptureRecord) (uint64, error) {
	err := s.DB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(captureBucket))
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.ID = id
		if rec.Time.IsZero() {
			rec.Time = time.Now()
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
	return rec.ID, err
}

// Captures returns up to limit records, newest first. limit <= 0 returns
// all of them.
func (s *Store) Captures(limit int) ([]CaptureRecord, error) {
	var out []CaptureRecord
	err := s.DB.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(captureBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec CaptureRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("capture %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}
