package http

import (
	"net/http"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

// orgHeader carries the caller's organization. Auth happens upstream;
// this service trusts the gateway-populated header.
const orgHeader = "X-Organization-ID"

func tenantFrom(r *http.Request) (domain.Tenant, bool) {
	tenant := domain.Tenant{OrgID: r.Header.Get(orgHeader)}
	return tenant, tenant.Valid()
}
