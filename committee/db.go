package committee

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Single (committee, member) row.
type CommitteeMember struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	Committee string `gorm:"not null;index:idx_committee_member,unique"`
	// Display form of the name, as imported
	Member string `gorm:"not null"`
	// NormalizeMember(Member)
	MemberKey string `gorm:"not null;index;index:idx_committee_member,unique"`
}

func (CommitteeMember) TableName() string {
	return "committee_members"
}

// Store backed by a SQL database (sqlite or postgres), so that imports persist across restarts and are shared by replicas.
type DBStore struct {
	db *gorm.DB
}

var _ Store = (*DBStore)(nil)

// Runs migrations for the committee_members table.
func NewDBStore(db *gorm.DB) (*DBStore, error) {
	if err := db.AutoMigrate(&CommitteeMember{}); err != nil {
		return nil, fmt.Errorf("migrating committee tables: %w", err)
	}
	return &DBStore{db: db}, nil
}

func (s *DBStore) CommitteesFor(ctx context.Context, member string) ([]string, error) {
	out := []string{}
	err := s.db.WithContext(ctx).
		Model(&CommitteeMember{}).
		Where("member_key = ?", NormalizeMember(member)).
		Order("committee").
		Pluck("committee", &out).Error
	if err != nil {
		return nil, fmt.Errorf("fetching committees: %w", err)
	}
	return out, nil
}

// Deletes all existing rows and inserts the new set, in a single transaction.
func (s *DBStore) Replace(ctx context.Context, a Assignments) error {
	rows := []CommitteeMember{}
	now := time.Now().UTC()
	for committee, members := range a {
		seen := map[string]bool{}
		for _, m := range members {
			key := NormalizeMember(m)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			rows = append(rows, CommitteeMember{
				CreatedAt: now,
				Committee: committee,
				Member:    m,
				MemberKey: key,
			})
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&CommitteeMember{}).Error; err != nil {
			return fmt.Errorf("clearing committee members: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("inserting committee members: %w", err)
		}
		return nil
	})
}

func (s *DBStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&CommitteeMember{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting committee members: %w", err)
	}
	return int(n), nil
}
