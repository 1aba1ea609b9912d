package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"interest-bank/internal/config"
	"interest-bank/internal/server"
)

const (
	alice = "0x00000000000000000000000000000000000A11cE"
	bob   = "0x0000000000000000000000000000000000000B0b"
)

type IntegrationTestSuite struct {
	suite.Suite
	postgresContainer *postgres.PostgresContainer
	cfg               *config.Config
	serverInstance    *server.Server
	baseURL           string
	client            *http.Client

	repaymentID string
}

type apiResponse struct {
	Data  map[string]interface{} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
}

func (suite *IntegrationTestSuite) SetupSuite() {
	if testing.Short() {
		suite.T().Skip("skipping integration suite in short mode")
	}
	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("interest_bank"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		suite.T().Fatalf("Failed to start postgres container: %s", err)
	}
	suite.postgresContainer = postgresContainer

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		suite.T().Fatalf("Failed to get container host: %s", err)
	}
	port, err := postgresContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		suite.T().Fatalf("Failed to get mapped port: %s", err)
	}

	suite.cfg = config.Default()
	suite.cfg.StorageBackend = config.BackendPostgres
	suite.cfg.DBHost = host
	suite.cfg.DBPort = port.Port()
	suite.cfg.ServerPort = "0"

	suite.client = &http.Client{Timeout: 30 * time.Second}

	if err := suite.startApplicationServer(); err != nil {
		suite.T().Fatalf("Failed to start application server: %s", err)
	}
}

// startApplicationServer runs the server against the suite database. The
// schema is migrated on startup, so restarting it exercises a migrated
// database.
func (suite *IntegrationTestSuite) startApplicationServer() error {
	serverInstance, port, err := server.StartServer(suite.cfg)
	if err != nil {
		return err
	}

	suite.serverInstance = serverInstance
	suite.baseURL = "http://localhost:" + port

	return suite.waitForServerReady()
}

func (suite *IntegrationTestSuite) stopApplicationServer() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if suite.serverInstance != nil {
		suite.serverInstance.Stop(ctx)
		suite.serverInstance = nil
	}
}

func (suite *IntegrationTestSuite) waitForServerReady() error {
	timeout := 30 * time.Second
	start := time.Now()

	for time.Since(start) < timeout {
		resp, err := http.Get(suite.baseURL + "/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}

func (suite *IntegrationTestSuite) TearDownSuite() {
	suite.stopApplicationServer()

	if suite.postgresContainer != nil {
		if err := testcontainers.TerminateContainer(suite.postgresContainer); err != nil {
			suite.T().Logf("Failed to terminate postgres container: %s", err)
		}
	}
}

// request sends a JSON request to the API and decodes the response envelope.
func (suite *IntegrationTestSuite) request(method, path string, body interface{}, idempotencyKey ...string) (int, *apiResponse) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		suite.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, suite.baseURL+path, reader)
	suite.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if len(idempotencyKey) > 0 && idempotencyKey[0] != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey[0])
	}

	resp, err := suite.client.Do(req)
	suite.Require().NoError(err)
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var decoded apiResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		suite.T().Logf("Failed to parse response: %s", respBody)
	}
	return resp.StatusCode, &decoded
}

func (suite *IntegrationTestSuite) deposit(address, amount string) (int, *apiResponse) {
	return suite.request("POST", "/accounts/"+address+"/deposits", map[string]string{"amount": amount})
}

func (suite *IntegrationTestSuite) fund(address, amount string) {
	status, resp := suite.request("POST", "/token/faucet", map[string]string{"address": address, "amount": amount})
	suite.Require().Equal(http.StatusCreated, status, "faucet: %+v", resp.Error)
	status, resp = suite.request("POST", "/token/approvals", map[string]string{"owner": address, "amount": "max"})
	suite.Require().Equal(http.StatusCreated, status, "approve: %+v", resp.Error)
}

// Helper to compare decimal values properly
func (suite *IntegrationTestSuite) assertDecimalEqual(expected string, actual interface{}) {
	actualStr, ok := actual.(string)
	if !ok {
		suite.T().Fatalf("Expected a decimal string, got %v", actual)
	}
	expectedDec, err := decimal.NewFromString(expected)
	if err != nil {
		suite.T().Fatalf("Invalid expected decimal: %s", expected)
	}
	actualDec, err := decimal.NewFromString(actualStr)
	if err != nil {
		suite.T().Fatalf("Invalid actual decimal: %s", actualStr)
	}

	assert.True(suite.T(), expectedDec.Equal(actualDec),
		"Decimal values not equal: expected %s, got %s", expected, actualStr)
}

// ------------------------------------------------------------------
// Steps run in the order TestFlow invokes them. Each step relies on the
// block height the previous ones left behind, since every action seals
// exactly one block.
// ------------------------------------------------------------------

func (suite *IntegrationTestSuite) stepHealthCheck() {
	resp, err := suite.client.Get(suite.baseURL + "/health")
	suite.Require().NoError(err)
	defer resp.Body.Close()

	var health map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(suite.T(), http.StatusOK, resp.StatusCode)
	assert.Equal(suite.T(), "healthy", health["status"])
}

func (suite *IntegrationTestSuite) stepInitialSupply() {
	status, resp := suite.request("GET", "/token", nil)
	suite.Require().Equal(http.StatusOK, status)
	suite.assertDecimalEqual("1000", resp.Data["total_supply"])
}

// Blocks 1-6.
func (suite *IntegrationTestSuite) stepDeposits() {
	suite.fund(alice, "100")
	suite.fund(bob, "100")

	status, resp := suite.deposit(alice, "10")
	suite.Require().Equal(http.StatusCreated, status, "%+v", resp.Error)
	assert.Equal(suite.T(), float64(5), resp.Data["block"])

	status, resp = suite.deposit(bob, "50")
	suite.Require().Equal(http.StatusCreated, status, "%+v", resp.Error)
	suite.assertDecimalEqual("50", resp.Data["balance"])
}

// Blocks 7-18: alice withdraws everything after thirteen blocks of interest.
func (suite *IntegrationTestSuite) stepWithdrawAll() {
	status, resp := suite.request("POST", "/blocks", map[string]uint64{"count": 10})
	suite.Require().Equal(http.StatusCreated, status)
	assert.Equal(suite.T(), float64(16), resp.Data["height"])

	status, resp = suite.request("POST", "/accounts/"+alice+"/withdrawals", map[string]string{"amount": "10.012000000000000001"})
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	suite.Require().NotNil(resp.Error)
	assert.Equal(suite.T(), "Withdraw amount more than deposited", resp.Error.Message)

	status, resp = suite.request("GET", "/accounts/"+alice, nil)
	suite.Require().Equal(http.StatusOK, status)
	suite.assertDecimalEqual("10.012", resp.Data["balance"])

	// The rejected attempt sealed block 17; this one lands in block 18.
	status, resp = suite.request("POST", "/accounts/"+alice+"/withdrawals", map[string]string{"amount": "10.013"})
	suite.Require().Equal(http.StatusCreated, status, "%+v", resp.Error)
	suite.assertDecimalEqual("0", resp.Data["balance"])

	status, resp = suite.request("GET", "/token/balances/"+alice, nil)
	suite.Require().Equal(http.StatusOK, status)
	suite.assertDecimalEqual("100.013", resp.Data["balance"])
}

// Blocks 19-29.
func (suite *IntegrationTestSuite) stepBorrowAndRepay() {
	status, resp := suite.request("POST", "/loans/"+bob, map[string]string{"amount": "20"})
	suite.Require().Equal(http.StatusCreated, status, "%+v", resp.Error)
	assert.Equal(suite.T(), float64(19), resp.Data["block"])

	status, resp = suite.request("POST", "/loans/"+bob, map[string]string{"amount": "1"})
	assert.Equal(suite.T(), http.StatusConflict, status)
	assert.Equal(suite.T(), "Already loaned", resp.Error.Message)

	suite.request("POST", "/blocks", map[string]uint64{"count": 8})

	status, resp = suite.request("POST", "/loans/"+bob+"/repayment", nil)
	suite.Require().Equal(http.StatusCreated, status, "%+v", resp.Error)
	suite.assertDecimalEqual("20.2", resp.Data["amount"])
	suite.assertDecimalEqual("0.2", resp.Data["interest"])
	suite.repaymentID = resp.Data["transaction_id"].(string)

	status, resp = suite.request("GET", "/token/balances/"+bob, nil)
	suite.Require().Equal(http.StatusOK, status)
	suite.assertDecimalEqual("49.8", resp.Data["balance"])
}

func (suite *IntegrationTestSuite) stepJournalLookup() {
	status, resp := suite.request("GET", "/transactions/"+suite.repaymentID, nil)
	suite.Require().Equal(http.StatusOK, status)
	assert.Equal(suite.T(), "repay", resp.Data["kind"])
	assert.Equal(suite.T(), "completed", resp.Data["status"])
	assert.Equal(suite.T(), float64(29), resp.Data["block"])

	status, resp = suite.request("GET", "/transactions/"+uuid.NewString(), nil)
	assert.Equal(suite.T(), http.StatusNotFound, status)
	assert.Equal(suite.T(), "not_found", resp.Error.Code)
}

// A rejected borrow is journaled, so retrying with the same key answers
// the same rejection without another block.
func (suite *IntegrationTestSuite) stepIdempotentRejection() {
	key := uuid.NewString()

	status, resp := suite.request("POST", "/loans/"+bob, map[string]string{"amount": "1000"}, key)
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	suite.Require().NotNil(resp.Error)
	assert.Equal(suite.T(), "Not enough fund in the bank", resp.Error.Message)

	_, block := suite.request("GET", "/blocks/latest", nil)
	height := block.Data["height"]

	status, resp = suite.request("POST", "/loans/"+bob, map[string]string{"amount": "1000"}, key)
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	suite.Require().NotNil(resp.Error)
	assert.Equal(suite.T(), "Not enough fund in the bank", resp.Error.Message)
	assert.Contains(suite.T(), resp.Error.Details, "replayed")

	_, block = suite.request("GET", "/blocks/latest", nil)
	assert.Equal(suite.T(), height, block.Data["height"])

	status, _ = suite.request("POST", "/loans/"+bob, map[string]string{"amount": "999"}, key)
	assert.Equal(suite.T(), http.StatusConflict, status)
}

// Token state lives in Postgres and survives a restart; the initial supply
// is not minted twice.
func (suite *IntegrationTestSuite) stepRestart() {
	_, before := suite.request("GET", "/token", nil)
	suite.assertDecimalEqual("1200", before.Data["total_supply"])

	suite.stopApplicationServer()
	suite.Require().NoError(suite.startApplicationServer())

	status, after := suite.request("GET", "/token", nil)
	suite.Require().Equal(http.StatusOK, status)
	suite.assertDecimalEqual("1200", after.Data["total_supply"])

	status, resp := suite.request("GET", "/api/v1/token/balances/"+bob, nil)
	suite.Require().Equal(http.StatusOK, status)
	suite.assertDecimalEqual("49.8", resp.Data["balance"])

	status, resp = suite.request("GET", "/transactions/"+suite.repaymentID, nil)
	suite.Require().Equal(http.StatusOK, status)
	assert.Equal(suite.T(), "repay", resp.Data["kind"])
}

func (suite *IntegrationTestSuite) TestFlow() {
	suite.stepHealthCheck()
	suite.stepInitialSupply()
	suite.stepDeposits()
	suite.stepWithdrawAll()
	suite.stepBorrowAndRepay()
	suite.stepJournalLookup()
	suite.stepIdempotentRejection()
	suite.stepRestart()
}

func TestIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(IntegrationTestSuite))
}
