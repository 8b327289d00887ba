package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/pgtemplate/internal/db"
	"github.com/nkiryanov/pgtemplate/internal/filters"
	"github.com/nkiryanov/pgtemplate/internal/logger"
	"github.com/nkiryanov/pgtemplate/internal/models"
	"github.com/nkiryanov/pgtemplate/internal/query"
	"github.com/nkiryanov/pgtemplate/internal/repository"
	"github.com/nkiryanov/pgtemplate/internal/service/auth"
	"github.com/nkiryanov/pgtemplate/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/pgtemplate/internal/service/user"
	"github.com/nkiryanov/pgtemplate/internal/testutil"
)

type testResponse struct {
	status int
	header http.Header
	body   string
}

// Decode body into v
func (r testResponse) decode(t *testing.T, v any) {
	t.Helper()
	require.NoErrorf(t, json.Unmarshal([]byte(r.body), v), "body: %s", r.body)
}

type testAPI struct {
	t     *testing.T
	url   string
	clock *atomic.Int64
	users *user.UserService
	tx    pgx.Tx
}

func (api *testAPI) do(method string, path string, bearer string, body string) testResponse {
	t := api.t
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, api.url+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return testResponse{status: resp.StatusCode, header: resp.Header, body: string(data)}
}

// Advance application clock for both users and tokens
func (api *testAPI) tick(d time.Duration) {
	api.clock.Add(d.Microseconds())
}

func (api *testAPI) createUsers(users ...user.NewUser) []models.User {
	t := api.t
	t.Helper()

	created, err := api.users.BulkCreate(t.Context(), db.NewSession(api.tx), users)
	require.NoError(t, err)
	return created
}

func (api *testAPI) login(username string, password string) tokenResponse {
	t := api.t
	t.Helper()

	resp := api.do(http.MethodPost, "/auth/login", "", `{"username": "`+username+`", "password": "`+password+`"}`)
	require.Equalf(t, http.StatusOK, resp.status, "login failed: %s", resp.body)

	var tokens tokenResponse
	resp.decode(t, &tokens)
	return tokens
}

func Test_Router(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	storage := repository.NewStorage(query.NewCompiler())
	hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// Production services over rolled back transaction
	withAPI := func(t *testing.T, fn func(api *testAPI)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			clock := &atomic.Int64{}
			clock.Store(start.UnixMicro())
			now := func() time.Time { return time.UnixMicro(clock.Load()).UTC() }

			tokens, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret-key", Now: now}, storage.Tokens)
			require.NoError(t, err)

			authService, err := auth.NewService(auth.Config{Hasher: hasher}, tokens, storage)
			require.NoError(t, err)

			userService := user.NewService(user.Config{
				Hasher:    hasher,
				Paginator: query.NewPaginator(2),
				Now:       now,
			}, storage)

			srv := httptest.NewServer(NewRouter(authService, userService, tx, logger.NewNoOpLogger()))
			defer srv.Close()

			fn(&testAPI{t: t, url: srv.URL, clock: clock, users: userService, tx: tx})
		})
	}

	t.Run("register login me", func(t *testing.T) {
		withAPI(t, func(api *testAPI) {
			api.createUsers(user.NewUser{Username: "root", Password: "secret", IsActive: true})
			root := api.login("root", "secret").AccessToken

			resp := api.do(http.MethodPost, "/user/register", root, `{"username": "Anna", "password": "secret"}`)
			require.Equalf(t, http.StatusCreated, resp.status, "body: %s", resp.body)
			var created models.User
			resp.decode(t, &created)
			assert.Equal(t, "anna", created.Username)
			assert.NotContains(t, resp.body, "password_hash")

			tokens := api.login("ANNA", "secret")
			assert.Equal(t, "bearer", tokens.TokenType)
			assert.NotEmpty(t, tokens.AccessToken)
			assert.NotEmpty(t, tokens.RefreshToken)
			assert.True(t, tokens.RefreshExpiresAt.After(tokens.AccessExpiresAt))

			resp = api.do(http.MethodGet, "/user/me", tokens.AccessToken, "")
			require.Equalf(t, http.StatusOK, resp.status, "body: %s", resp.body)
			var me models.User
			resp.decode(t, &me)
			assert.Equal(t, created.ID, me.ID)
		})
	})

	t.Run("register errors", func(t *testing.T) {
		withAPI(t, func(api *testAPI) {
			api.createUsers(user.NewUser{Username: "root", Password: "secret", IsActive: true})
			root := api.login("root", "secret").AccessToken

			resp := api.do(http.MethodPost, "/user/register", root, `{"username": "anna", "password": "secret"}`)
			require.Equal(t, http.StatusCreated, resp.status)

			resp = api.do(http.MethodPost, "/user/register", root, `{"username": "ANNA", "password": "other"}`)
			require.Equal(t, http.StatusConflict, resp.status)
			require.JSONEq(t, `{"error": "user_already_exists", "message": "User already exists"}`, resp.body)

			resp = api.do(http.MethodPost, "/user/register", root, `{"username": "an na", "password": "secret"}`)
			require.Equal(t, http.StatusUnprocessableEntity, resp.status)
			assert.Contains(t, resp.body, `"username"`)

			resp = api.do(http.MethodPost, "/user/register", root, `not json`)
			require.Equal(t, http.StatusBadRequest, resp.status)
		})
	})

	t.Run("register needs active user", func(t *testing.T) {
		withAPI(t, func(api *testAPI) {
			api.createUsers(user.NewUser{Username: "ghost", Password: "secret", IsActive: false})
			ghost := api.login("ghost", "secret").AccessToken

			resp := api.do(http.MethodPost, "/user/register", "", `{"username": "anna", "password": "secret"}`)
			require.Equal(t, http.StatusUnauthorized, resp.status, "no open sign up")
			assert.Equal(t, "Bearer", resp.header.Get("WWW-Authenticate"))

			resp = api.do(http.MethodPost, "/user/register", ghost, `{"username": "anna", "password": "secret"}`)
			require.Equal(t, http.StatusUnauthorized, resp.status, "inactive user can't register others")

			res, err := api.users.List(t.Context(), db.NewSession(api.tx), filters.UserFilter{UsernameIn: []string{"anna"}}, nil, nil)
			require.NoError(t, err)
			assert.Zero(t, res.Total, "nobody is registered")
		})
	})

	t.Run("login errors", func(t *testing.T) {
		withAPI(t, func(api *testAPI) {
			api.createUsers(user.NewUser{Username: "anna", Password: "secret", IsActive: true})

			for _, body := range []string{
				`{"username": "anna", "password": "wrong"}`,
				`{"username": "nobody", "password": "secret"}`,
			} {
				resp := api.do(http.MethodPost, "/auth/login", "", body)
				require.Equal(t, http.StatusUnauthorized, resp.status)
				require.JSONEq(t, `{"error": "bad_login_credentials", "message": "Incorrect username or password"}`, resp.body)
			}
		})
	})

	t.Run("unauthorized", func(t *testing.T) {
		withAPI(t, func(api *testAPI) {
			resp := api.do(http.MethodGet, "/user/me", "", "")
			require.Equal(t, http.StatusUnauthorized, resp.status)
			assert.Equal(t, "Bearer", resp.header.Get("WWW-Authenticate"))

			resp = api.do(http.MethodGet, "/user/me", "not-a-jwt", "")
			require.Equal(t, http.StatusUnauthorized, resp.status)
			require.JSONEq(t, `{"error": "token_parse_error", "message": "Could not validate credentials"}`, resp.body)
		})
	})

	t.Run("refresh rotates pair once", func(t *testing.T) {
		withAPI(t, func(api *testAPI) {
			api.createUsers(user.NewUser{Username: "anna", Password: "secret", IsActive: true})
			tokens := api.login("anna", "secret")

			resp := api.do(http.MethodPost, "/auth/refresh", tokens.AccessToken, "")
			require.Equal(t, http.StatusUnauthorized, resp.status, "access token is not refresh token")

			resp = api.do(http.MethodPost, "/auth/refresh", tokens.RefreshToken, "")
			require.Equalf(t, http.StatusOK, resp.status, "body: %s", resp.body)
			var rotated tokenResponse
			resp.decode(t, &rotated)
			assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

			resp = api.do(http.MethodPost, "/auth/refresh", tokens.RefreshToken, "")
			require.Equal(t, http.StatusUnauthorized, resp.status, "refresh token is single use")
			require.JSONEq(t, `{"error": "bad_token", "message": "Could not validate credentials"}`, resp.body)

			resp = api.do(http.MethodGet, "/user/me", tokens.AccessToken, "")
			require.Equal(t, http.StatusUnauthorized, resp.status, "old access token is revoked with its pair")

			resp = api.do(http.MethodGet, "/user/me", rotated.AccessToken, "")
			require.Equal(t, http.StatusOK, resp.status)
		})
	})

	t.Run("logout", func(t *testing.T) {
		withAPI(t, func(api *testAPI) {
			api.createUsers(user.NewUser{Username: "anna", Password: "secret", IsActive: true})
			tokens := api.login("anna", "secret")

			resp := api.do(http.MethodPost, "/auth/logout", tokens.AccessToken, "")
			require.Equal(t, http.StatusNoContent, resp.status)
			assert.Empty(t, resp.body)

			resp = api.do(http.MethodGet, "/user/me", tokens.AccessToken, "")
			require.Equal(t, http.StatusUnauthorized, resp.status)

			resp = api.do(http.MethodPost, "/auth/refresh", tokens.RefreshToken, "")
			require.Equal(t, http.StatusUnauthorized, resp.status)
		})
	})

	t.Run("password change makes tokens stale", func(t *testing.T) {
		withAPI(t, func(api *testAPI) {
			api.createUsers(user.NewUser{Username: "anna", Password: "secret", IsActive: true})
			tokens := api.login("anna", "secret")

			api.tick(time.Millisecond)
			resp := api.do(http.MethodPatch, "/user/me", tokens.AccessToken, `{"password": "new-secret", "attributes": {"locale": "en"}}`)
			require.Equalf(t, http.StatusOK, resp.status, "body: %s", resp.body)
			var me models.User
			resp.decode(t, &me)
			assert.Equal(t, "en", me.Attributes["locale"])

			resp = api.do(http.MethodGet, "/user/me", tokens.AccessToken, "")
			require.Equal(t, http.StatusUnauthorized, resp.status, "token issued before password change is stale")

			fresh := api.login("anna", "new-secret")
			resp = api.do(http.MethodGet, "/user/me", fresh.AccessToken, "")
			require.Equal(t, http.StatusOK, resp.status)
		})
	})

	t.Run("inactive user", func(t *testing.T) {
		withAPI(t, func(api *testAPI) {
			api.createUsers(user.NewUser{Username: "anna", Password: "secret", IsActive: false})
			tokens := api.login("anna", "secret")

			resp := api.do(http.MethodGet, "/user/me", tokens.AccessToken, "")
			require.Equal(t, http.StatusUnauthorized, resp.status)
		})
	})

	t.Run("admin", func(t *testing.T) {
		withAPI(t, func(api *testAPI) {
			api.createUsers(
				user.NewUser{Username: "root", Password: "secret", IsActive: true, IsAdmin: true},
				user.NewUser{Username: "anna", Password: "secret", IsActive: true},
			)
			admin := api.login("root", "secret").AccessToken

			t.Run("not for users", func(t *testing.T) {
				token := api.login("anna", "secret").AccessToken

				resp := api.do(http.MethodGet, "/users", token, "")
				require.Equal(t, http.StatusForbidden, resp.status)
				require.JSONEq(t, `{"error": "permission_denied", "message": "Not enough permissions"}`, resp.body)
			})

			t.Run("bulk create", func(t *testing.T) {
				resp := api.do(http.MethodPost, "/users", admin, `[
					{"username": "bob", "password": "secret", "attributes": {"locale": "de"}},
					{"username": "boris", "password": "secret", "is_active": false}
				]`)
				require.Equalf(t, http.StatusCreated, resp.status, "body: %s", resp.body)
				var created []models.User
				resp.decode(t, &created)
				require.Len(t, created, 2)
				assert.True(t, created[0].IsActive, "active unless said otherwise")
				assert.False(t, created[1].IsActive)

				resp = api.do(http.MethodPost, "/users", admin, `[{"username": "carl", "password": "secret"}, {"username": "bob", "password": "secret"}]`)
				require.Equal(t, http.StatusConflict, resp.status, "existing user fails whole batch")

				resp = api.do(http.MethodPost, "/users", admin, `[{"username": "carl", "password": "secret"}, {"username": "x", "password": "secret"}]`)
				require.Equal(t, http.StatusUnprocessableEntity, resp.status)
				assert.Contains(t, resp.body, `"[1].username"`)
			})

			t.Run("list is always paginated", func(t *testing.T) {
				resp := api.do(http.MethodGet, "/users", admin, "")
				require.Equalf(t, http.StatusOK, resp.status, "body: %s", resp.body)

				var page []models.User
				resp.decode(t, &page)
				require.Len(t, page, 2, "no page requested is the first page of max size")
				assert.Equal(t, "4", resp.header.Get(HeaderTotalCount))
			})

			t.Run("list", func(t *testing.T) {
				resp := api.do(http.MethodGet, "/users?is_active=true&order_by=%2Busername&page=1&limit=50", admin, "")
				require.Equalf(t, http.StatusOK, resp.status, "body: %s", resp.body)

				var page []models.User
				resp.decode(t, &page)
				require.Len(t, page, 2, "limit is clamped by max page size")
				assert.Equal(t, "anna", page[0].Username)
				assert.Equal(t, "bob", page[1].Username)
				assert.Equal(t, "3", resp.header.Get(HeaderTotalCount))
				assert.NotEmpty(t, resp.header.Get(HeaderDateFrom))
				assert.NotEmpty(t, resp.header.Get(HeaderDateTill))
			})

			t.Run("list by attribute", func(t *testing.T) {
				resp := api.do(http.MethodGet, "/users?locale=de", admin, "")
				require.Equal(t, http.StatusOK, resp.status)

				var page []models.User
				resp.decode(t, &page)
				require.Len(t, page, 1)
				assert.Equal(t, "bob", page[0].Username)
			})

			t.Run("list nothing", func(t *testing.T) {
				resp := api.do(http.MethodGet, "/users?username=nobody", admin, "")
				require.Equal(t, http.StatusOK, resp.status)
				assert.JSONEq(t, `[]`, resp.body)
				assert.Equal(t, "0", resp.header.Get(HeaderTotalCount))
				assert.Empty(t, resp.header.Get(HeaderDateFrom))
			})

			t.Run("list bad params", func(t *testing.T) {
				resp := api.do(http.MethodGet, "/users?order_by=-password_hash", admin, "")
				require.Equal(t, http.StatusBadRequest, resp.status)
				require.JSONEq(t, `{
					"error": "bad_ordering",
					"message": "Invalid ordering",
					"context": {"entity": "users", "order_by": "-password_hash"}
				}`, resp.body)

				resp = api.do(http.MethodGet, "/users?created_at__from=yesterday", admin, "")
				require.Equal(t, http.StatusBadRequest, resp.status)
				assert.Contains(t, resp.body, `"bad_filter"`)
			})

			t.Run("patch", func(t *testing.T) {
				resp := api.do(http.MethodPatch, "/users/Anna", admin, `{"is_admin": true}`)
				require.Equalf(t, http.StatusOK, resp.status, "body: %s", resp.body)
				var patched models.User
				resp.decode(t, &patched)
				assert.True(t, patched.IsAdmin)

				resp = api.do(http.MethodPatch, "/users/nobody", admin, `{"is_admin": true}`)
				require.Equal(t, http.StatusNotFound, resp.status)
			})

			t.Run("delete", func(t *testing.T) {
				resp := api.do(http.MethodGet, "/users?username__in=bob,boris", admin, "")
				var users []models.User
				resp.decode(t, &users)
				require.Len(t, users, 2)

				resp = api.do(http.MethodDelete, "/users?ids="+users[0].ID.String()+","+users[1].ID.String(), admin, "")
				require.Equalf(t, http.StatusOK, resp.status, "body: %s", resp.body)
				require.JSONEq(t, `{"deleted": 2}`, resp.body)

				resp = api.do(http.MethodDelete, "/users", admin, "")
				require.Equal(t, http.StatusBadRequest, resp.status, "ids are required")
			})
		})
	})

	t.Run("metrics", func(t *testing.T) {
		withAPI(t, func(api *testAPI) {
			api.do(http.MethodGet, "/user/me", "", "")

			resp := api.do(http.MethodGet, "/metrics", "", "")
			require.Equal(t, http.StatusOK, resp.status)
			assert.Contains(t, resp.body, "pgtemplate_http_requests_total")
		})
	})
}
