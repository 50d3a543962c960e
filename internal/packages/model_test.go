package packages

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePackageRequestValidate(t *testing.T) {
	purchase := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := purchase.Add(-time.Hour)
	negative := int64(-1)

	valid := func() CreatePackageRequest {
		return CreatePackageRequest{PatientID: "p1", Name: "Hip x6", TotalSessions: 6, PurchaseDate: purchase}
	}
	require.NoError(t, func() error { r := valid(); return r.Validate() }())

	cases := map[string]func(*CreatePackageRequest){
		"missing patient":   func(r *CreatePackageRequest) { r.PatientID = " " },
		"missing name":      func(r *CreatePackageRequest) { r.Name = "" },
		"zero sessions":     func(r *CreatePackageRequest) { r.TotalSessions = 0 },
		"negative sessions": func(r *CreatePackageRequest) { r.TotalSessions = -3 },
		"missing purchase":  func(r *CreatePackageRequest) { r.PurchaseDate = time.Time{} },
		"expiry before buy": func(r *CreatePackageRequest) { r.ExpirationDate = &before },
		"negative price":    func(r *CreatePackageRequest) { r.PriceCents = &negative },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := valid()
			mutate(&r)
			err := r.Validate()
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}
}

func TestUpdatePackageRequestApply(t *testing.T) {
	purchase := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &TherapyPackage{Name: "Old", PurchaseDate: purchase, TotalSessions: 10, SessionsUsed: 4}

	name := "New name"
	exp := purchase.AddDate(0, 6, 0)
	require.NoError(t, (&UpdatePackageRequest{Name: &name, ExpirationDate: &exp}).Apply(p))
	assert.Equal(t, "New name", p.Name)
	assert.Equal(t, exp, *p.ExpirationDate)
	assert.Equal(t, 4, p.SessionsUsed)

	empty := ""
	assert.ErrorIs(t, (&UpdatePackageRequest{Name: &empty}).Apply(p), ErrValidation)

	early := purchase.Add(-time.Hour)
	assert.ErrorIs(t, (&UpdatePackageRequest{ExpirationDate: &early}).Apply(p), ErrValidation)
}

func TestRecordSessionRequestValidate(t *testing.T) {
	r := RecordSessionRequest{PackageID: "pkg", PatientID: "p1", SessionDate: time.Now(), AttendanceStatus: AttendanceNoShow}
	require.NoError(t, r.Validate())

	r.AttendanceStatus = "late"
	assert.ErrorIs(t, r.Validate(), ErrValidation)
}

func TestParseAlertMethod(t *testing.T) {
	assert.Equal(t, MethodEmail, ParseAlertMethod(" EMAIL "))
	assert.Equal(t, MethodPanel, ParseAlertMethod("sms"))
	assert.Equal(t, MethodPanel, ParseAlertMethod(""))
}
