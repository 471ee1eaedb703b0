package database

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/persistence"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

//User is a stored identity together with its credentials
type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
}

//Identity strips the credentials off the user
func (u User) Identity() domain.Identity {
	return domain.Identity{ID: u.ID, DisplayName: u.DisplayName, Email: u.Email}
}

//Datastore is an interface that is used to inject the database into different handlers to improve testability
type Datastore interface {
	CreatePin(pin domain.Pin) error
	GetPinByID(id string) (domain.Pin, error)
	GetPins(query domain.PinQuery) ([]domain.Pin, error)
	GetPinCount() int
	GetNewestPinTime() (time.Time, error)
	DeletePin(id string) error

	CreateUser(user User) error
	GetUserByEmail(email string) (User, error)
	GetUserByID(id string) (User, error)
}

//ConnectorFunc is used to inject a database connection method into NewDatabaseConnection
type ConnectorFunc func() (*gorm.DB, error)

//NewSQLiteConnector opens a connection to a private in-memory sqlite database
func NewSQLiteConnector() ConnectorFunc {
	return func() (*gorm.DB, error) {
		db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}

		// every pooled connection would otherwise get a database of its own
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)

		return db, nil
	}
}

//NewSQLiteFileConnector opens a connection to a sqlite database stored in a file
func NewSQLiteFileConnector(path string) ConnectorFunc {
	return func() (*gorm.DB, error) {
		return gorm.Open(sqlite.Open(path), &gorm.Config{})
	}
}

//NewPostgreSQLConnector opens a connection to a postgresql database, retrying a few times while it starts up
func NewPostgreSQLConnector(host, user, password, dbname, sslmode string) ConnectorFunc {
	dsn := fmt.Sprintf("host=%s user=%s dbname=%s sslmode=%s password=%s", host, user, dbname, sslmode, password)

	return func() (*gorm.DB, error) {
		for attempt := 1; ; attempt++ {
			db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
			if err == nil {
				return db, nil
			}

			if attempt == 5 {
				return nil, err
			}

			log.Errorf("Failed to connect to database %s@%s (attempt %d): %s", dbname, host, attempt, err.Error())
			time.Sleep(3 * time.Second)
		}
	}
}

type myDB struct {
	impl *gorm.DB
}

//NewDatabaseConnection creates and returns a new instance of the Datastore interface
func NewDatabaseConnection(connect ConnectorFunc) (Datastore, error) {
	impl, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(&persistence.Pin{}, &persistence.User{})
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &myDB{impl: impl}, nil
}

func (db *myDB) CreatePin(pin domain.Pin) error {
	result := db.impl.Create(fromDomainPin(pin))
	if result.Error != nil {
		return result.Error
	}
	return nil
}

func (db *myDB) GetPinByID(id string) (domain.Pin, error) {
	row := &persistence.Pin{}
	result := db.impl.Where("pin_id = ?", id).First(row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return domain.Pin{}, fmt.Errorf("no pin with id %s in datastore: %w", id, domain.ErrNotFound)
		}
		return domain.Pin{}, result.Error
	}

	return toDomainPin(row), nil
}

func (db *myDB) GetPins(query domain.PinQuery) ([]domain.Pin, error) {
	rows := []persistence.Pin{}

	tx := db.impl.Order("timestamp desc").Order("pin_id desc")
	if query.AuthorID != "" {
		tx = tx.Where("author_id = ?", query.AuthorID)
	}

	result := tx.Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}

	pins := make([]domain.Pin, 0, len(rows))
	for idx := range rows {
		pins = append(pins, toDomainPin(&rows[idx]))
	}

	return pins, nil
}

func (db *myDB) GetPinCount() int {
	var count int64
	db.impl.Model(&persistence.Pin{}).Count(&count)
	return int(count)
}

//GetNewestPinTime returns the creation time of the newest stored pin, or the zero time
//when there are none
func (db *myDB) GetNewestPinTime() (time.Time, error) {
	row := &persistence.Pin{}
	result := db.impl.Order("timestamp desc").First(row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, result.Error
	}

	return row.Timestamp.UTC(), nil
}

func (db *myDB) DeletePin(id string) error {
	result := db.impl.Unscoped().Where("pin_id = ?", id).Delete(&persistence.Pin{})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("unable to delete non existing pin %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

func (db *myDB) CreateUser(user User) error {
	result := db.impl.Create(&persistence.User{
		UserID:       user.ID,
		DisplayName:  user.DisplayName,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
	})
	return result.Error
}

func (db *myDB) GetUserByEmail(email string) (User, error) {
	return db.findUser("email = ?", email)
}

func (db *myDB) GetUserByID(id string) (User, error) {
	return db.findUser("user_id = ?", id)
}

func (db *myDB) findUser(clause string, value string) (User, error) {
	row := &persistence.User{}
	result := db.impl.Where(clause, value).First(row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("no such user: %w", domain.ErrNotFound)
		}
		return User{}, result.Error
	}

	return User{
		ID:           row.UserID,
		DisplayName:  row.DisplayName,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
	}, nil
}

func fromDomainPin(pin domain.Pin) *persistence.Pin {
	return &persistence.Pin{
		PinID:             pin.ID,
		Latitude:          pin.Lat,
		Longitude:         pin.Lng,
		Category:          pin.Category,
		ProblemID:         pin.ProblemID,
		ProblemLabel:      pin.ProblemLabel,
		Glyph:             pin.Glyph,
		Severity:          string(pin.Severity),
		Comment:           pin.Comment,
		AuthorID:          pin.AuthorID,
		AuthorDisplayName: pin.AuthorDisplayName,
		Timestamp:         pin.CreatedAt.UTC(),
	}
}

func toDomainPin(row *persistence.Pin) domain.Pin {
	return domain.Pin{
		ID:                row.PinID,
		Lat:               row.Latitude,
		Lng:               row.Longitude,
		Category:          row.Category,
		ProblemID:         row.ProblemID,
		ProblemLabel:      row.ProblemLabel,
		Glyph:             row.Glyph,
		Severity:          domain.Severity(row.Severity),
		Comment:           row.Comment,
		AuthorID:          row.AuthorID,
		AuthorDisplayName: row.AuthorDisplayName,
		CreatedAt:         row.Timestamp.UTC(),
	}
}
