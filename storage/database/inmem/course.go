package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/course"
)

type courseRepository struct {
	db *DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *DB) course.Repository {
	return &courseRepository{db: db}
}

func (repo *courseRepository) CreateCourse(ctx context.Context, c course.Course) (course.Course, error) {
	defer repo.db.lockTx(ctx)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if c.ID == "" {
		c.ID = core.NewID()
	}
	c = cloneCourse(c)
	repo.db.courses[c.ID] = &c
	return cloneCourse(c), nil
}

// get must be called with db.mu held.
func (repo *courseRepository) get(id string) (*course.Course, error) {
	c, ok := repo.db.courses[id]
	if !ok || c.IsDeleted {
		return nil, course.ErrNotFound
	}
	return c, nil
}

func (repo *courseRepository) GetCourseByID(_ context.Context, id string) (course.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	c, err := repo.get(id)
	if err != nil {
		return course.Course{}, err
	}
	return cloneCourse(*c), nil
}

func (repo *courseRepository) GetCourseWithCreator(_ context.Context, id string) (course.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	c, err := repo.get(id)
	if err != nil {
		return course.Course{}, err
	}
	crs := cloneCourse(*c)
	if creator, ok := repo.db.users[c.CreatorID]; ok {
		usr := cloneUser(*creator)
		crs.Creator = &usr
	}
	return crs, nil
}

func (repo *courseRepository) QueryCourses(_ context.Context, filter *course.QueryFilter, ordering []core.DBOrdering) ([]course.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	courses := make([]course.Course, 0, len(repo.db.courses))
	for _, c := range repo.db.courses {
		if c.IsDeleted {
			continue
		}
		if filter == nil || matchCourse(c, filter) {
			courses = append(courses, cloneCourse(*c))
		}
	}
	sortCourses(courses, ordering)
	return courses, nil
}

func matchCourse(c *course.Course, filter *course.QueryFilter) bool {
	if filter.Search != "" {
		kw := strings.ToLower(filter.Search)
		if !(strings.Contains(strings.ToLower(c.Title), kw) || strings.Contains(strings.ToLower(c.Description), kw)) {
			return false
		}
	}
	if filter.CreatorID != "" && c.CreatorID != filter.CreatorID {
		return false
	}
	if filter.MinPrice != nil && c.Price.LessThan(*filter.MinPrice) {
		return false
	}
	if filter.MaxPrice != nil && c.Price.GreaterThan(*filter.MaxPrice) {
		return false
	}
	if filter.SubscriberID != "" && !c.IsSubscribed(filter.SubscriberID) {
		return false
	}
	return true
}

func sortCourses(courses []course.Course, ordering []core.DBOrdering) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: false}}
	}
	sort.SliceStable(courses, func(i, j int) bool {
		a, b := courses[i], courses[j]
		for _, ord := range ordering {
			var cmp int
			switch ord.Field {
			case "title":
				cmp = strings.Compare(a.Title, b.Title)
			case "price":
				cmp = a.Price.Cmp(b.Price)
			case "created_at":
				cmp = compareTimes(a.CreatedAt, b.CreatedAt)
			case "updated_at":
				cmp = compareTimes(a.UpdatedAt, b.UpdatedAt)
			}
			if cmp == 0 {
				continue
			}
			if ord.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
}

func (repo *courseRepository) UpdateCourse(ctx context.Context, c course.Course) (course.Course, error) {
	defer repo.db.lockTx(ctx)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig, err := repo.get(c.ID)
	if err != nil {
		return course.Course{}, err
	}
	// subscribers and earnings only move through AddSubscriber
	c.Subscribers = orig.Subscribers
	c.Earnings = orig.Earnings
	c.CreatorID = orig.CreatorID
	c.CreatedAt = orig.CreatedAt

	c = cloneCourse(c)
	repo.db.courses[c.ID] = &c
	return cloneCourse(c), nil
}

func (repo *courseRepository) AddSubscriber(ctx context.Context, courseID, userID string, earnings decimal.Decimal) error {
	defer repo.db.lockTx(ctx)()
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	c, err := repo.get(courseID)
	if err != nil {
		return err
	}
	if c.IsSubscribed(userID) {
		return course.ErrAlreadySubscribed
	}
	c.Subscribers = append(c.Subscribers, userID)
	c.Earnings = c.Earnings.Add(earnings)
	return nil
}
