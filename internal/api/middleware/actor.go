// actor.go — извлечение заявленной идентичности актора из запроса.
//
// Система не аутентифицирует: идентичность записывается в цепочку
// как заявленная. Источники в порядке приоритета:
//  1. Заголовок X-Actor-Id
//  2. Claim sub из Bearer-токена (подпись НЕ проверяется — токен
//     используется только как носитель заявленной идентичности)
//
// Origin (RemoteAddr) и AgentString (User-Agent) снимаются всегда.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyActor — ключ заявленной идентичности актора.
	ContextKeyActor contextKey = "actor_id"
	// ContextKeyOrigin — ключ сетевого источника запроса.
	ContextKeyOrigin contextKey = "actor_origin"
	// ContextKeyAgent — ключ клиента актора (User-Agent).
	ContextKeyAgent contextKey = "actor_agent"
)

// HeaderActorID — заголовок с явной заявленной идентичностью.
const HeaderActorID = "X-Actor-Id"

// ActorIdentity возвращает middleware, кладущий заявленную идентичность
// актора, origin и agent в контекст запроса. Пустая идентичность
// допустима: обязательность поля проверяет сервисный слой.
func ActorIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := r.Header.Get(HeaderActorID)
			if actor == "" {
				actor = subjectFromBearer(r.Header.Get("Authorization"))
			}

			ctx := context.WithValue(r.Context(), ContextKeyActor, actor)
			ctx = context.WithValue(ctx, ContextKeyOrigin, r.RemoteAddr)
			ctx = context.WithValue(ctx, ContextKeyAgent, r.UserAgent())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// subjectFromBearer извлекает sub из Bearer-токена без проверки подписи.
// Некорректный токен даёт пустую идентичность, а не ошибку.
func subjectFromBearer(authHeader string) string {
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader || token == "" {
		return ""
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return ""
	}

	subject, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return subject
}

// ActorFromContext извлекает заявленную идентичность актора из контекста.
// Возвращает пустую строку, если идентичность не заявлена.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(ContextKeyActor).(string)
	return actor
}

// OriginFromContext извлекает сетевой источник запроса из контекста.
func OriginFromContext(ctx context.Context) string {
	origin, _ := ctx.Value(ContextKeyOrigin).(string)
	return origin
}

// AgentFromContext извлекает клиента актора из контекста.
func AgentFromContext(ctx context.Context) string {
	agent, _ := ctx.Value(ContextKeyAgent).(string)
	return agent
}
