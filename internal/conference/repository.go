// internal/conference/repository.go
package conference

import (
	"context"
	"errors"
	"fmt"

	"github.com/avivl/conference-lock/internal/observability"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when the conference does not exist
	ErrNotFound = errors.New("conference not found")
	// ErrInvalidUpdate is returned for updates that would leave a conference without a title
	ErrInvalidUpdate = errors.New("conference title must not be empty")
)

// Repository is the conference directory used by the HTTP layer.
type Repository interface {
	List(ctx context.Context) ([]Conference, error)
	Get(ctx context.Context, id int64) (*Conference, error)
	Create(ctx context.Context, c *Conference) error
	Update(ctx context.Context, id int64, update Update) (*Conference, error)
	Latest(ctx context.Context) (*Conference, error)
	SetLatest(ctx context.Context, id int64) (*Conference, error)
	AttachEditor(ctx context.Context, conferenceID, userID int64) error
	DetachEditor(ctx context.Context, conferenceID, userID int64) (bool, error)
	Editors(ctx context.Context, conferenceID int64) ([]int64, error)
}

// GormRepository implements Repository using GORM
type GormRepository struct {
	db *gorm.DB
	l  *observability.SLogger
}

var _ Repository = (*GormRepository)(nil)

func NewGormRepository(db *gorm.DB, l *observability.SLogger) *GormRepository {
	return &GormRepository{db: db, l: l}
}

// AutoMigrate creates or updates the directory tables
func (r *GormRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Conference{}, &ConferenceEditor{})
}

func (r *GormRepository) handleError(operation string, err error, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	r.l.Errorw("Database error", "operation", operation, "conference_id", id, "error", err)
	return fmt.Errorf("%s conference %d: %w", operation, id, err)
}

func (r *GormRepository) List(ctx context.Context) ([]Conference, error) {
	var conferences []Conference
	if err := r.db.WithContext(ctx).Order("id").Find(&conferences).Error; err != nil {
		return nil, r.handleError("listing", err, 0)
	}
	return conferences, nil
}

func (r *GormRepository) Get(ctx context.Context, id int64) (*Conference, error) {
	var c Conference
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, r.handleError("getting", err, id)
	}
	return &c, nil
}

func (r *GormRepository) Create(ctx context.Context, c *Conference) error {
	if c.Title == "" {
		return ErrInvalidUpdate
	}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return r.handleError("creating", err, c.ID)
	}
	return nil
}

func (r *GormRepository) Update(ctx context.Context, id int64, update Update) (*Conference, error) {
	if update.Title != nil && *update.Title == "" {
		return nil, ErrInvalidUpdate
	}

	var c Conference
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, id).Error; err != nil {
			return err
		}
		if update.Title != nil {
			c.Title = *update.Title
		}
		if update.Acronym != nil {
			c.Acronym = *update.Acronym
		}
		return tx.Save(&c).Error
	})
	if err != nil {
		return nil, r.handleError("updating", err, id)
	}
	return &c, nil
}

// Latest returns the conference carrying the latest flag, or ErrNotFound.
func (r *GormRepository) Latest(ctx context.Context) (*Conference, error) {
	var c Conference
	if err := r.db.WithContext(ctx).Where("is_latest = ?", true).First(&c).Error; err != nil {
		return nil, r.handleError("getting latest", err, 0)
	}
	return &c, nil
}

// SetLatest moves the latest flag to id in one transaction.
func (r *GormRepository) SetLatest(ctx context.Context, id int64) (*Conference, error) {
	var c Conference
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&Conference{}).
			Where("is_latest = ? AND id <> ?", true, id).
			Update("is_latest", false).Error; err != nil {
			return err
		}
		c.IsLatest = true
		return tx.Model(&c).Update("is_latest", true).Error
	})
	if err != nil {
		return nil, r.handleError("setting latest", err, id)
	}
	r.l.Infow("Latest conference changed", "conference_id", id)
	return &c, nil
}

// AttachEditor is idempotent.
func (r *GormRepository) AttachEditor(ctx context.Context, conferenceID, userID int64) error {
	if _, err := r.Get(ctx, conferenceID); err != nil {
		return err
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ConferenceEditor{ConferenceID: conferenceID, UserID: userID}).Error
	if err != nil {
		return r.handleError("attaching editor to", err, conferenceID)
	}
	return nil
}

// DetachEditor reports whether the user was an editor.
func (r *GormRepository) DetachEditor(ctx context.Context, conferenceID, userID int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("conference_id = ? AND user_id = ?", conferenceID, userID).
		Delete(&ConferenceEditor{})
	if result.Error != nil {
		return false, r.handleError("detaching editor from", result.Error, conferenceID)
	}
	return result.RowsAffected > 0, nil
}

func (r *GormRepository) Editors(ctx context.Context, conferenceID int64) ([]int64, error) {
	editors := make([]int64, 0)
	err := r.db.WithContext(ctx).Model(&ConferenceEditor{}).
		Where("conference_id = ?", conferenceID).
		Order("user_id").
		Pluck("user_id", &editors).Error
	if err != nil {
		return nil, r.handleError("listing editors of", err, conferenceID)
	}
	return editors, nil
}
