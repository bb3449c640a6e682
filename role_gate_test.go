package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/gin-gonic/gin"
)

func contextWithRole(role string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if role != "" {
		req = req.WithContext(utils.SetCallerRoleInContext(req.Context(), role))
	}
	c.Request = req
	return c, w
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	scanRoles := []models.UserRole{models.UserRoleSales}
	pdfRoles := []models.UserRole{models.UserRoleSales, models.UserRoleInventory}

	cases := []struct {
		name    string
		role    string
		allowed []models.UserRole
		want    bool
		status  int
	}{
		// scan and checkout are cashier operations
		{"scan as sales", "S", scanRoles, true, 0},
		{"scan as admin", "A", scanRoles, true, 0},
		{"scan as inventory", "I", scanRoles, false, http.StatusForbidden},
		// the pdf endpoint serves back-office reprints too
		{"pdf as sales", "S", pdfRoles, true, 0},
		{"pdf as inventory", "I", pdfRoles, true, 0},
		{"pdf as admin", "A", pdfRoles, true, 0},
		// empty allowed list means admin only
		{"admin-only as admin", "A", nil, true, 0},
		{"admin-only as sales", "S", nil, false, http.StatusForbidden},
		{"no role", "", scanRoles, false, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, w := contextWithRole(tc.role)
			got := requireRole(c, tc.allowed...)
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			if !tc.want && w.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, w.Code)
			}
		})
	}
}
