package donations

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/doarbem/donations-backend/pkg/db/models"
	"github.com/doarbem/donations-backend/pkg/enums"
)

func setupRepoTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Donation{}))
	return conn
}

func strPtr(v string) *string { return &v }

func TestFindByExternalIDMissingRow(t *testing.T) {
	repo := NewRepository(setupRepoTestDB(t))

	row, err := repo.FindByExternalID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestFindByProviderIDsPayPalMatchesEitherColumn(t *testing.T) {
	conn := setupRepoTestDB(t)
	repo := NewRepository(conn)

	seed := &models.Donation{
		ExternalID:      "ext-pp",
		Provider:        enums.ProviderPayPal,
		Status:          enums.DonationStatusInitiateCheckout,
		PayPalOrderID:   strPtr("ORD-1"),
		PayPalCaptureID: strPtr("CAP-1"),
	}
	require.NoError(t, repo.Create(context.Background(), seed))

	byCapture, err := repo.FindByProviderIDs(context.Background(), enums.ProviderPayPal, "CAP-1", "")
	require.NoError(t, err)
	require.NotNil(t, byCapture)
	assert.Equal(t, seed.ExternalID, byCapture.ExternalID)

	byOrder, err := repo.FindByProviderIDs(context.Background(), enums.ProviderPayPal, "", "ORD-1")
	require.NoError(t, err)
	require.NotNil(t, byOrder)
	assert.Equal(t, seed.ExternalID, byOrder.ExternalID)
}

func TestFindByProviderIDsTransactionFallsBackToOrderID(t *testing.T) {
	conn := setupRepoTestDB(t)
	repo := NewRepository(conn)

	seed := &models.Donation{
		ExternalID:    "ext-sq",
		Provider:      enums.ProviderSquare,
		Status:        enums.DonationStatusInitiateCheckout,
		TransactionID: strPtr("pay_9"),
	}
	require.NoError(t, repo.Create(context.Background(), seed))

	row, err := repo.FindByProviderIDs(context.Background(), enums.ProviderSquare, "missing", "pay_9")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "ext-sq", row.ExternalID)

	none, err := repo.FindByProviderIDs(context.Background(), enums.ProviderSquare, "", "")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestFindByProviderIDsLytexUsesGivePaymentID(t *testing.T) {
	conn := setupRepoTestDB(t)
	repo := NewRepository(conn)

	seed := &models.Donation{
		ExternalID:    "ext-ly",
		Provider:      enums.ProviderLytex,
		Status:        enums.DonationStatusInitiateCheckout,
		GivePaymentID: strPtr("give-7"),
	}
	require.NoError(t, repo.Create(context.Background(), seed))

	row, err := repo.FindByProviderIDs(context.Background(), enums.ProviderLytex, "give-7", "")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "ext-ly", row.ExternalID)
}

func TestRecentCandidatesFiltersAndOrders(t *testing.T) {
	conn := setupRepoTestDB(t)
	repo := NewRepository(conn)
	now := time.Now().UTC()

	rows := []models.Donation{
		{ExternalID: "old", Provider: enums.ProviderStripe, Status: enums.DonationStatusInitiateCheckout, Email: "a@b.com", AmountCents: 3000, CreatedAt: now.Add(-7 * time.Hour)},
		{ExternalID: "recent", Provider: enums.ProviderStripe, Status: enums.DonationStatusInitiateCheckout, Email: "a@b.com", AmountCents: 3000, CreatedAt: now.Add(-5 * time.Hour)},
		{ExternalID: "settled", Provider: enums.ProviderStripe, Status: enums.DonationStatusPaid, Email: "a@b.com", AmountCents: 3000, CreatedAt: now.Add(-time.Hour)},
		{ExternalID: "other-amount", Provider: enums.ProviderStripe, Status: enums.DonationStatusInitiateCheckout, Email: "a@b.com", AmountCents: 5000, CreatedAt: now.Add(-time.Hour)},
	}
	for i := range rows {
		require.NoError(t, repo.Create(context.Background(), &rows[i]))
	}

	got, err := repo.RecentCandidates(context.Background(), "a@b.com", 3000, now, 6*time.Hour, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "recent", got[0].ExternalID)
}

func TestUpdateColumnsAppliesPartialUpdate(t *testing.T) {
	conn := setupRepoTestDB(t)
	repo := NewRepository(conn)

	seed := &models.Donation{
		ExternalID: "ext-up",
		Provider:   enums.ProviderStripe,
		Status:     enums.DonationStatusInitiateCheckout,
		Email:      "keep@me.com",
	}
	require.NoError(t, repo.Create(context.Background(), seed))

	require.NoError(t, repo.UpdateColumns(context.Background(), seed.ID, map[string]any{
		"status": enums.DonationStatusPaid,
	}))
	require.NoError(t, repo.UpdateColumns(context.Background(), seed.ID, nil))

	row, err := repo.FindByExternalID(context.Background(), "ext-up")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, enums.DonationStatusPaid, row.Status)
	assert.Equal(t, "keep@me.com", row.Email)
}
