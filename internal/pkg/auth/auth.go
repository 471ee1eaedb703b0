package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/database"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

var (
	//ErrEmailTaken is returned when registering an email that already has an account
	ErrEmailTaken = errors.New("user with this email already exists")
	//ErrInvalidRegistration is returned when the registration form is incomplete
	ErrInvalidRegistration = errors.New("invalid registration")
	//ErrInvalidCredentials is wrapped in a SignInError when email or password do not match
	ErrInvalidCredentials = errors.New("invalid credentials")
	//ErrInvalidToken is returned for expired, tampered or malformed session tokens
	ErrInvalidToken = errors.New("invalid authorization token")
)

//Authenticator is the identity provider: it registers users, signs them in and verifies session tokens
type Authenticator struct {
	db     database.Datastore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

//New creates an authenticator that signs session tokens with secret
func New(db database.Datastore, secret string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("a jwt secret must be configured")
	}

	if ttl <= 0 {
		ttl = 72 * time.Hour
	}

	return &Authenticator{db: db, secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

//TTL returns how long issued tokens stay valid
func (a *Authenticator) TTL() time.Duration {
	return a.ttl
}

//Register creates a new user with a bcrypt hashed password
func (a *Authenticator) Register(name, email, password string) (domain.Identity, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if name == "" || utf8.RuneCountInString(name) > 50 {
		return domain.Identity{}, fmt.Errorf("%w: name must be between 1 and 50 characters", ErrInvalidRegistration)
	}
	if !strings.Contains(email, "@") {
		return domain.Identity{}, fmt.Errorf("%w: email is not valid", ErrInvalidRegistration)
	}
	if len(password) < 6 {
		return domain.Identity{}, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidRegistration)
	}

	if _, err := a.db.GetUserByEmail(email); err == nil {
		return domain.Identity{}, ErrEmailTaken
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Identity{}, err
	}

	user := database.User{
		ID:           uuid.New().String(),
		DisplayName:  name,
		Email:        email,
		PasswordHash: string(hashed),
	}

	if err = a.db.CreateUser(user); err != nil {
		log.Errorf("Error inserting user: %s", err.Error())
		return domain.Identity{}, err
	}

	log.Infof("Registered user %s", user.ID)

	return user.Identity(), nil
}

//SignIn checks the credentials and returns the identity together with a fresh session token
func (a *Authenticator) SignIn(email, password string) (domain.Identity, string, error) {
	user, err := a.db.GetUserByEmail(strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Identity{}, "", &domain.SignInError{Err: ErrInvalidCredentials}
		}
		return domain.Identity{}, "", &domain.SignInError{Err: err}
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return domain.Identity{}, "", &domain.SignInError{Err: ErrInvalidCredentials}
	}

	identity := user.Identity()

	token, err := a.Issue(identity)
	if err != nil {
		return domain.Identity{}, "", &domain.SignInError{Err: err}
	}

	return identity, token, nil
}

//Issue signs a session token for the identity
func (a *Authenticator) Issue(identity domain.Identity) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": identity.ID,
		"name":    identity.DisplayName,
		"exp":     a.now().Add(a.ttl).Unix(),
	})

	return token.SignedString(a.secret)
}

//Verify validates a session token and returns the identity it was issued for
func (a *Authenticator) Verify(tokenString string) (domain.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})

	if err != nil || !token.Valid {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Identity{}, ErrInvalidToken
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing user_id claim", ErrInvalidToken)
	}

	name, _ := claims["name"].(string)

	return domain.Identity{ID: userID, DisplayName: name}, nil
}

//Lookup returns the stored identity for a user id
func (a *Authenticator) Lookup(id string) (domain.Identity, error) {
	user, err := a.db.GetUserByID(id)
	if err != nil {
		return domain.Identity{}, err
	}
	return user.Identity(), nil
}
