package handlers

import (
	"net"
	"net/http"

	"github.com/appforge/gateway/internal/models"
	"github.com/appforge/gateway/internal/quota"
)

// Identity headers sent by clients. Absent headers skip their quota scope.
const (
	HeaderUserID   = "X-User-ID"
	HeaderDeviceID = "X-Device-ID"
	HeaderPlan     = "X-Plan"
)

// callerIdentity extracts the quota identity from request headers and the
// source address. RealIP middleware has already rewritten RemoteAddr when a
// proxy header is present.
func callerIdentity(r *http.Request) quota.Identity {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	return quota.Identity{
		UserID:   r.Header.Get(HeaderUserID),
		DeviceID: r.Header.Get(HeaderDeviceID),
		IP:       ip,
		Plan:     models.ParsePlan(r.Header.Get(HeaderPlan)),
	}
}
