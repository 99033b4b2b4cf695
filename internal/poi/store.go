package poi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/storage/records"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

var (
	// ErrNotFound is returned when no POI has the requested ID
	ErrNotFound = errors.New("poi not found")
	// ErrInvalid wraps validation failures of submitted POIs
	ErrInvalid = errors.New("invalid poi")
)

// POI is a named point of interest an ETA can be computed for
type POI struct {
	ID          string    `json:"id"`
	Name        string    `json:"name" validate:"required,max=128"`
	Latitude    float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude   float64   `json:"longitude" validate:"gte=-180,lte=180"`
	Category    string    `json:"category,omitempty" validate:"omitempty,max=64"`
	Description string    `json:"description,omitempty" validate:"omitempty,max=1024"`
	Icon        string    `json:"icon,omitempty" validate:"omitempty,max=64"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type document struct {
	POIs []POI `json:"pois"`
}

// Store persists POIs in a single JSON record. Every mutation is a full
// locked rewrite, so concurrent API writers never interleave.
type Store struct {
	records  *records.FileStore
	validate *validator.Validate
	logger   *logger.Logger
	now      func() time.Time
}

// NewStore creates a POI store on top of a record file
func NewStore(rec *records.FileStore, log *logger.Logger) *Store {
	return &Store{
		records:  rec,
		validate: validator.New(),
		logger:   log.Named("poi"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func decode(data []byte) (document, error) {
	var doc document
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to decode poi record: %w", err)
	}
	return doc, nil
}

func encode(doc document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode poi record: %w", err)
	}
	return data, nil
}

// List returns all POIs ordered by name
func (s *Store) List() ([]POI, error) {
	data, err := s.records.ReadRaw()
	if err != nil {
		return nil, err
	}
	doc, err := decode(data)
	if err != nil {
		return nil, err
	}
	pois := doc.POIs
	if pois == nil {
		pois = []POI{}
	}
	sort.SliceStable(pois, func(i, j int) bool {
		return strings.ToLower(pois[i].Name) < strings.ToLower(pois[j].Name)
	})
	return pois, nil
}

// Get returns the POI with the given ID
func (s *Store) Get(id string) (POI, error) {
	pois, err := s.List()
	if err != nil {
		return POI{}, err
	}
	for _, p := range pois {
		if p.ID == id {
			return p, nil
		}
	}
	return POI{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *Store) check(p POI) error {
	if err := s.validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Create validates p, assigns an ID and stores it
func (s *Store) Create(ctx context.Context, p POI) (POI, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := s.check(p); err != nil {
		return POI{}, err
	}

	now := s.now()
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now

	err := s.records.Update(ctx, func(current []byte) ([]byte, error) {
		doc, err := decode(current)
		if err != nil {
			return nil, err
		}
		doc.POIs = append(doc.POIs, p)
		return encode(doc)
	})
	if err != nil {
		return POI{}, err
	}

	s.logger.Info("POI created", logger.String("id", p.ID), logger.String("name", p.Name))
	return p, nil
}

// Update replaces the editable fields of the POI with the given ID
func (s *Store) Update(ctx context.Context, id string, p POI) (POI, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := s.check(p); err != nil {
		return POI{}, err
	}

	var updated POI
	err := s.records.Update(ctx, func(current []byte) ([]byte, error) {
		doc, err := decode(current)
		if err != nil {
			return nil, err
		}
		for i := range doc.POIs {
			if doc.POIs[i].ID != id {
				continue
			}
			p.ID = id
			p.CreatedAt = doc.POIs[i].CreatedAt
			p.UpdatedAt = s.now()
			doc.POIs[i] = p
			updated = p
			return encode(doc)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	})
	if err != nil {
		return POI{}, err
	}

	s.logger.Info("POI updated", logger.String("id", id))
	return updated, nil
}

// Delete removes the POI with the given ID
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.records.Update(ctx, func(current []byte) ([]byte, error) {
		doc, err := decode(current)
		if err != nil {
			return nil, err
		}
		for i := range doc.POIs {
			if doc.POIs[i].ID == id {
				doc.POIs = append(doc.POIs[:i], doc.POIs[i+1:]...)
				return encode(doc)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("POI deleted", logger.String("id", id))
	return nil
}
