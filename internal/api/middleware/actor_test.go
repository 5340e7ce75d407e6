package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

// actorProbe выполняет запрос через ActorIdentity и возвращает
// извлечённые из контекста значения.
func actorProbe(t *testing.T, setup func(r *http.Request)) (actor, origin, agent string) {
	t.Helper()

	handler := ActorIdentity()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = ActorFromContext(r.Context())
		origin = OriginFromContext(r.Context())
		agent = AgentFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/evidence", nil)
	req.Header.Set("User-Agent", "forensics-cli/1.0")
	if setup != nil {
		setup(req)
	}

	handler.ServeHTTP(httptest.NewRecorder(), req)
	return actor, origin, agent
}

// TestActorIdentity_Header проверяет приоритет заголовка X-Actor-Id.
func TestActorIdentity_Header(t *testing.T) {
	actor, origin, agent := actorProbe(t, func(r *http.Request) {
		r.Header.Set(HeaderActorID, "officer-42")
	})

	if actor != "officer-42" {
		t.Errorf("ожидался актор officer-42, получен %q", actor)
	}
	if origin == "" {
		t.Error("origin должен сниматься из RemoteAddr")
	}
	if agent != "forensics-cli/1.0" {
		t.Errorf("ожидался agent forensics-cli/1.0, получен %q", agent)
	}
}

// TestActorIdentity_BearerSub проверяет извлечение sub из токена
// без проверки подписи.
func TestActorIdentity_BearerSub(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "investigator-7",
	})
	signed, err := token.SignedString([]byte("any-key"))
	if err != nil {
		t.Fatalf("ошибка подписи токена: %v", err)
	}

	actor, _, _ := actorProbe(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signed)
	})

	if actor != "investigator-7" {
		t.Errorf("ожидался актор investigator-7 из sub, получен %q", actor)
	}
}

// TestActorIdentity_HeaderOverridesToken проверяет приоритет заголовка.
func TestActorIdentity_HeaderOverridesToken(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "from-token",
	})
	signed, err := token.SignedString([]byte("any-key"))
	if err != nil {
		t.Fatalf("ошибка подписи токена: %v", err)
	}

	actor, _, _ := actorProbe(t, func(r *http.Request) {
		r.Header.Set(HeaderActorID, "from-header")
		r.Header.Set("Authorization", "Bearer "+signed)
	})

	if actor != "from-header" {
		t.Errorf("заголовок должен иметь приоритет над токеном, получен %q", actor)
	}
}

// TestActorIdentity_NoIdentity проверяет пустую идентичность без источников.
func TestActorIdentity_NoIdentity(t *testing.T) {
	actor, _, _ := actorProbe(t, nil)
	if actor != "" {
		t.Errorf("без источников идентичность должна быть пустой, получена %q", actor)
	}
}

// TestActorIdentity_MalformedToken проверяет, что некорректный токен
// даёт пустую идентичность, а не отказ запроса.
func TestActorIdentity_MalformedToken(t *testing.T) {
	actor, _, _ := actorProbe(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer not-a-jwt")
	})
	if actor != "" {
		t.Errorf("некорректный токен должен давать пустую идентичность, получена %q", actor)
	}
}
