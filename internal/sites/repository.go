package sites

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hostingspace/app/internal/routes"
	"hostingspace/app/internal/vault"
)

var (
	// ErrUserNotFound indicates no user row matches the lookup.
	ErrUserNotFound = eris.New("user not found")
	// ErrSiteNotFound indicates no site row matches the lookup.
	ErrSiteNotFound = eris.New("site not found")
)

// Repository defines persistence operations for users and site metadata.
type Repository interface {
	EnsureUser(ctx context.Context, authID, name string) (*User, error)
	UserByAuthID(ctx context.Context, authID string) (*User, error)
	SetProviderSettings(ctx context.Context, userID uint, provider vault.Provider, storedCredential string) error
	ClearProviderSettings(ctx context.Context, userID uint) error
	RouteExists(ctx context.Context, routeName string) (bool, error)
	CreateSite(ctx context.Context, site *Site) error
	SiteByRoute(ctx context.Context, routeName string) (*Site, error)
	ListSites(ctx context.Context, ownerID uint) ([]Site, error)
	DeleteSite(ctx context.Context, site *Site) error
	TouchSite(ctx context.Context, siteID uint) error
	ListRouteNames(ctx context.Context) ([]string, error)
}

// GormRepository persists users and sites using a Gorm database connection.
type GormRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewRepository constructs a Gorm-backed repository implementation.
func NewRepository(db *gorm.DB, logger *logrus.Logger) (*GormRepository, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &GormRepository{db: db, logger: logger}, nil
}

var _ Repository = (*GormRepository)(nil)

// EnsureUser returns the user for authID, inserting a free-plan row on first sight.
func (r *GormRepository) EnsureUser(ctx context.Context, authID, name string) (*User, error) {
	trimmed := strings.TrimSpace(authID)
	if trimmed == "" {
		return nil, eris.New("auth id is required")
	}

	user := &User{AuthID: trimmed, Name: strings.TrimSpace(name), Plan: "free"}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "auth_id"}}, DoNothing: true}).
		Create(user).Error
	if err != nil {
		r.logError(logrus.Fields{"auth_id": trimmed}, err, "provisioning user")
		return nil, eris.Wrapf(err, "provisioning user: %s", trimmed)
	}

	return r.UserByAuthID(ctx, trimmed)
}

// UserByAuthID returns the user row or ErrUserNotFound.
func (r *GormRepository) UserByAuthID(ctx context.Context, authID string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).First(&user, "auth_id = ?", strings.TrimSpace(authID)).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		r.logError(logrus.Fields{"auth_id": authID}, err, "fetching user by auth id")
		return nil, eris.Wrapf(err, "fetching user by auth id: %s", authID)
	}

	return &user, nil
}

// SetProviderSettings stores the provider and its encrypted key together.
func (r *GormRepository) SetProviderSettings(ctx context.Context, userID uint, provider vault.Provider, storedCredential string) error {
	if !provider.Valid() {
		return eris.Wrapf(vault.ErrUnknownProvider, "setting provider for user %d", userID)
	}
	if storedCredential == "" {
		return eris.New("stored credential is required")
	}

	result := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(map[string]any{
		"ai_provider": string(provider),
		"api_key":     storedCredential,
	})
	if result.Error != nil {
		r.logError(logrus.Fields{"user_id": userID}, result.Error, "saving provider settings")
		return eris.Wrapf(result.Error, "saving provider settings for user %d", userID)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// ClearProviderSettings nulls out the provider and the stored key.
func (r *GormRepository) ClearProviderSettings(ctx context.Context, userID uint) error {
	result := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(map[string]any{
		"ai_provider": nil,
		"api_key":     nil,
	})
	if result.Error != nil {
		r.logError(logrus.Fields{"user_id": userID}, result.Error, "clearing provider settings")
		return eris.Wrapf(result.Error, "clearing provider settings for user %d", userID)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// RouteExists reports whether a site already owns the route name.
func (r *GormRepository) RouteExists(ctx context.Context, routeName string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Site{}).Where("route_name = ?", routeName).Count(&count).Error; err != nil {
		r.logError(logrus.Fields{"route_name": routeName}, err, "checking route existence")
		return false, eris.Wrapf(err, "checking route existence: %s", routeName)
	}

	return count > 0, nil
}

// CreateSite inserts the site and increments the owner's site count in one transaction.
// A unique violation on the route name yields *routes.SlugConflictError.
func (r *GormRepository) CreateSite(ctx context.Context, site *Site) error {
	if site == nil {
		return eris.New("site is nil")
	}
	if site.OwnerID == 0 {
		return eris.New("site owner is required")
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(site).Error; err != nil {
			return err
		}
		return tx.Model(&User{}).
			Where("id = ?", site.OwnerID).
			UpdateColumn("site_count", gorm.Expr("site_count + ?", 1)).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			conflict := &routes.SlugConflictError{RouteName: site.RouteName}
			r.logError(logrus.Fields{"route_name": site.RouteName}, conflict, "creating site with duplicate route")
			return conflict
		}
		r.logError(logrus.Fields{"route_name": site.RouteName}, err, "creating site")
		return eris.Wrapf(err, "creating site: %s", site.RouteName)
	}

	return nil
}

// SiteByRoute returns the site owning routeName or ErrSiteNotFound.
func (r *GormRepository) SiteByRoute(ctx context.Context, routeName string) (*Site, error) {
	var site Site
	err := r.db.WithContext(ctx).First(&site, "route_name = ?", routeName).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSiteNotFound
		}
		r.logError(logrus.Fields{"route_name": routeName}, err, "fetching site by route")
		return nil, eris.Wrapf(err, "fetching site by route: %s", routeName)
	}

	return &site, nil
}

// ListSites returns the owner's sites, newest first.
func (r *GormRepository) ListSites(ctx context.Context, ownerID uint) ([]Site, error) {
	var list []Site

	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC, id DESC").Find(&list).Error; err != nil {
		r.logError(logrus.Fields{"owner_id": ownerID}, err, "listing sites")
		return nil, eris.Wrap(err, "listing sites")
	}

	return list, nil
}

// DeleteSite removes the site row and decrements the owner's site count.
func (r *GormRepository) DeleteSite(ctx context.Context, site *Site) error {
	if site == nil {
		return eris.New("site is nil")
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&Site{}, site.ID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrSiteNotFound
		}
		return tx.Model(&User{}).
			Where("id = ?", site.OwnerID).
			UpdateColumn("site_count", gorm.Expr("CASE WHEN site_count > 0 THEN site_count - 1 ELSE 0 END")).Error
	})
	if err != nil {
		if errors.Is(err, ErrSiteNotFound) {
			return ErrSiteNotFound
		}
		r.logError(logrus.Fields{"route_name": site.RouteName}, err, "deleting site")
		return eris.Wrapf(err, "deleting site: %s", site.RouteName)
	}

	return nil
}

// TouchSite bumps the site's updated timestamp after a code change.
func (r *GormRepository) TouchSite(ctx context.Context, siteID uint) error {
	err := r.db.WithContext(ctx).Model(&Site{}).Where("id = ?", siteID).UpdateColumn("updated_at", time.Now().UTC()).Error
	if err != nil {
		r.logError(logrus.Fields{"site_id": siteID}, err, "touching site")
		return eris.Wrapf(err, "touching site %d", siteID)
	}

	return nil
}

// ListRouteNames returns every registered route name in ascending order.
func (r *GormRepository) ListRouteNames(ctx context.Context) ([]string, error) {
	var names []string

	if err := r.db.WithContext(ctx).Model(&Site{}).Order("route_name ASC").Pluck("route_name", &names).Error; err != nil {
		r.logError(nil, err, "listing route names")
		return nil, eris.Wrap(err, "listing route names")
	}

	return names, nil
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique")
}

func (r *GormRepository) logError(fields logrus.Fields, err error, message string) {
	if r.logger == nil || err == nil {
		return
	}

	entry := r.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
