package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theycallmesabb/bank-api/internal/storage"
)

func setupAuthTestConfig() {
	viper.Set("jwt.secret_key", "test-secret-key")
	viper.Set("jwt.expiry_hours", 24)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("argon2.salt_length", 16)
}

func newAuthTestService(t *testing.T) (*AuthService, sqlmock.Sqlmock, func()) {
	t.Helper()
	setupAuthTestConfig()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	service := NewAuthService(db, storage.NewPostgresAccountStore(db), nil)
	return service, mock, func() { db.Close() }
}

func TestAuthService_Register(t *testing.T) {
	t.Run("successful registration opens a zero-balance account", func(t *testing.T) {
		service, mock, cleanup := newAuthTestService(t)
		defer cleanup()

		mock.ExpectExec("INSERT INTO users").
			WithArgs("alice", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs("alice", int64(0), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		body, _ := json.Marshal(RegisterRequest{Username: "Alice", Password: "password123"})
		r := httptest.NewRequest("POST", "/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.Register(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response AuthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "alice", response.Username)
		assert.NotEmpty(t, response.Token)

		// The token must carry the lowercased username.
		parsed, err := jwt.Parse(response.Token, func(token *jwt.Token) (any, error) {
			return []byte(viper.GetString("jwt.secret_key")), nil
		})
		require.NoError(t, err)
		claims, ok := parsed.Claims.(jwt.MapClaims)
		require.True(t, ok)
		assert.Equal(t, "alice", claims["username"])

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate username", func(t *testing.T) {
		service, mock, cleanup := newAuthTestService(t)
		defer cleanup()

		mock.ExpectExec("INSERT INTO users").
			WithArgs("alice", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		body, _ := json.Marshal(RegisterRequest{Username: "alice", Password: "password123"})
		r := httptest.NewRequest("POST", "/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.Register(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validation failure never touches the database", func(t *testing.T) {
		service, mock, cleanup := newAuthTestService(t)
		defer cleanup()

		for _, req := range []RegisterRequest{
			{Username: "al", Password: "password123"},
			{Username: "alice", Password: "short"},
			{Username: "not a name", Password: "password123"},
		} {
			body, _ := json.Marshal(req)
			r := httptest.NewRequest("POST", "/register", bytes.NewBuffer(body))
			w := httptest.NewRecorder()
			service.Register(w, r)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("account creation failure removes the orphaned user", func(t *testing.T) {
		service, mock, cleanup := newAuthTestService(t)
		defer cleanup()

		mock.ExpectExec("INSERT INTO users").
			WithArgs("alice", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs("alice", int64(0), sqlmock.AnyArg()).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectExec("DELETE FROM users").
			WithArgs("alice").
			WillReturnResult(sqlmock.NewResult(0, 1))

		body, _ := json.Marshal(RegisterRequest{Username: "alice", Password: "password123"})
		r := httptest.NewRequest("POST", "/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.Register(w, r)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuthService_Login(t *testing.T) {
	t.Run("successful login", func(t *testing.T) {
		service, mock, cleanup := newAuthTestService(t)
		defer cleanup()

		hashed, err := hashPassword("password123")
		require.NoError(t, err)

		mock.ExpectQuery("SELECT password_hash FROM users WHERE username = \\$1").
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow(hashed))

		body, _ := json.Marshal(LoginRequest{Username: "alice", Password: "password123"})
		r := httptest.NewRequest("POST", "/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.Login(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "alice", response.Username)
		assert.NotEmpty(t, response.Token)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password", func(t *testing.T) {
		service, mock, cleanup := newAuthTestService(t)
		defer cleanup()

		hashed, err := hashPassword("password123")
		require.NoError(t, err)

		mock.ExpectQuery("SELECT password_hash FROM users WHERE username = \\$1").
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow(hashed))

		body, _ := json.Marshal(LoginRequest{Username: "alice", Password: "wrongpass"})
		r := httptest.NewRequest("POST", "/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		service, mock, cleanup := newAuthTestService(t)
		defer cleanup()

		mock.ExpectQuery("SELECT password_hash FROM users WHERE username = \\$1").
			WithArgs("nobody").
			WillReturnRows(sqlmock.NewRows([]string{"password_hash"}))

		body, _ := json.Marshal(LoginRequest{Username: "nobody", Password: "password123"})
		r := httptest.NewRequest("POST", "/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuthService_Logout(t *testing.T) {
	setupAuthTestConfig()

	redisClient, redisMock := redismock.NewClientMock()
	redisMock.ExpectSet("blacklist:some-token", "1", 24*time.Hour).SetVal("OK")

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, storage.NewPostgresAccountStore(db), redisClient)

	r := httptest.NewRequest("POST", "/logout", nil)
	r.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()
	service.Logout(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}
