package handlers

import (
	"net/http"
	"strings"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeCoreErrorJSON(w, reqID, &core.Error{
		Code:    core.CodeNotFound,
		Class:   core.ClassPermanent,
		Message: "not found",
	}, http.StatusNotFound)
}

// MethodNotAllowed answers a known path hit with the wrong method. It is
// mounted on the method-less pattern so the method-specific ones win.
func MethodNotAllowed(allow ...string) http.Handler {
	allowHeader := strings.Join(allow, ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, _ := mw.RequestIDFrom(r.Context())
		w.Header().Set("Allow", allowHeader)
		writeCoreErrorJSON(w, reqID, &core.Error{
			Code:    core.CodeMethodNotAllowed,
			Class:   core.ClassPermanent,
			Message: r.Method + " not allowed; use " + allowHeader,
		}, http.StatusMethodNotAllowed)
	})
}
