package stress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealradar/redemption-service/internal/config"
	"github.com/dealradar/redemption-service/internal/model"
	"github.com/dealradar/redemption-service/internal/repository"
	"github.com/dealradar/redemption-service/internal/service"
)

func newRedemptionService() *service.RedemptionService {
	dealRepo := repository.NewDealRepository(testPool)
	claimRepo := repository.NewClaimRepository(testPool)
	scanRepo := repository.NewScanRepository(testPool)
	return service.NewRedemptionService(testPool, dealRepo, claimRepo, scanRepo, config.RedemptionConfig{
		TokenTTL:           5 * time.Minute,
		QRScheme:           "dealradar",
		RegenLimit:         5,
		RegenWindow:        time.Hour,
		ScanVelocityLimit:  60,
		ScanVelocityWindow: time.Minute,
	})
}

// TestVerifyStampede hammers one issued code with 50 concurrent verify
// calls. The consume compare-and-set must admit exactly one grant; the
// registry counter must move exactly once.
func TestVerifyStampede(t *testing.T) {
	cleanupTables(t)

	const concurrentScans = 50
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dealID := createDeal(t, "STAMPEDE_TEST", 0)
	svc := newRedemptionService()

	claim, err := svc.IssueOrRegenerate(ctx, dealID, "user_stampede", false)
	require.NoError(t, err)

	startTime := time.Now()
	t.Logf("Starting verify stampede: %d concurrent scans of one code", concurrentScans)

	var wg sync.WaitGroup
	outcomes := make(chan model.ScanOutcome, concurrentScans)

	for i := 0; i < concurrentScans; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.Verify(ctx, dealID, claim.Token, "scanner_stampede")
			if err != nil {
				t.Errorf("verify returned error: %v", err)
				return
			}
			outcomes <- result.Outcome
		}()
	}

	wg.Wait()
	close(outcomes)

	var granted, alreadyConsumed, other int
	for outcome := range outcomes {
		switch outcome {
		case model.OutcomeGranted:
			granted++
		case model.OutcomeAlreadyConsumed:
			alreadyConsumed++
		default:
			other++
			t.Logf("Unexpected outcome: %s", outcome)
		}
	}

	t.Logf("Results - Granted: %d, AlreadyConsumed: %d, Other: %d", granted, alreadyConsumed, other)
	t.Logf("Execution time: %v", time.Since(startTime))

	assert.Equal(t, 1, granted, "Exactly one scan should be granted")
	assert.Equal(t, concurrentScans-1, alreadyConsumed,
		"Every losing scan should classify as already consumed")
	assert.Equal(t, 0, other, "No other outcomes should occur")

	// Counter moved exactly once
	var count int
	err = testPool.QueryRow(ctx,
		"SELECT redemption_count FROM deals WHERE id = $1", dealID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "redemption_count should be exactly 1")

	// One consumed row, attributed to the winning scanner
	var consumed int
	err = testPool.QueryRow(ctx,
		"SELECT COUNT(*) FROM redemption_claims WHERE deal_id = $1 AND status = 'consumed' AND consumed_by = $2",
		dealID, "scanner_stampede").Scan(&consumed)
	require.NoError(t, err)
	assert.Equal(t, 1, consumed)

	// Every scan, winner and losers, is in the audit trail
	var attempts int
	err = testPool.QueryRow(ctx,
		"SELECT COUNT(*) FROM scan_attempts WHERE scanner_session_id = $1",
		"scanner_stampede").Scan(&attempts)
	require.NoError(t, err)
	assert.Equal(t, concurrentScans, attempts)
}

// TestIssueStampedeSameUser launches 20 concurrent issue calls for one
// (deal, user). The partial unique index plus the deal row lock must
// leave exactly one issued claim, and every caller must walk away with
// that same token.
func TestIssueStampedeSameUser(t *testing.T) {
	cleanupTables(t)

	const concurrentIssues = 20
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dealID := createDeal(t, "ISSUE_STAMPEDE_TEST", 0)
	svc := newRedemptionService()

	var wg sync.WaitGroup
	tokens := make(chan string, concurrentIssues)

	for i := 0; i < concurrentIssues; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := svc.IssueOrRegenerate(ctx, dealID, "user_stampede", false)
			if err != nil {
				t.Errorf("issue returned error: %v", err)
				return
			}
			tokens <- claim.Token
		}()
	}

	wg.Wait()
	close(tokens)

	unique := make(map[string]bool)
	for token := range tokens {
		unique[token] = true
	}
	assert.Len(t, unique, 1, "Every caller should hold the same token")

	var issued int
	err := testPool.QueryRow(ctx,
		"SELECT COUNT(*) FROM redemption_claims WHERE deal_id = $1 AND status = 'issued'",
		dealID).Scan(&issued)
	require.NoError(t, err)
	assert.Equal(t, 1, issued, "Exactly one issued claim should exist")
}

// TestManyUsersOneVerifierEach runs 30 users end to end concurrently:
// each gets a code and redeems it once. All grants must land and the
// counter must equal the user count exactly.
func TestManyUsersOneVerifierEach(t *testing.T) {
	cleanupTables(t)

	const users = 30
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	dealID := createDeal(t, "FULL_FLOW_TEST", users)
	svc := newRedemptionService()

	var wg sync.WaitGroup
	grants := make(chan bool, users)

	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := "user_" + string(rune('a'+n%26)) + string(rune('0'+n/26))
			claim, err := svc.IssueOrRegenerate(ctx, dealID, userID, false)
			if err != nil {
				t.Errorf("issue for %s: %v", userID, err)
				return
			}
			result, err := svc.Verify(ctx, dealID, claim.Token, "scanner_flow")
			if err != nil {
				t.Errorf("verify for %s: %v", userID, err)
				return
			}
			grants <- result.Outcome == model.OutcomeGranted
		}(i)
	}

	wg.Wait()
	close(grants)

	granted := 0
	for ok := range grants {
		if ok {
			granted++
		}
	}
	assert.Equal(t, users, granted, "Every user's single scan should be granted")

	var count int
	err := testPool.QueryRow(ctx,
		"SELECT redemption_count FROM deals WHERE id = $1", dealID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, users, count, "Counter should equal the number of grants exactly")
}
