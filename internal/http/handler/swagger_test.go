package handler

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type swaggerDoc struct {
	Host    string   `json:"host"`
	Schemes []string `json:"schemes"`
}

func getSwaggerDoc(app *fiber.App, host, proto string) (swaggerDoc, int, error) {
	req := httptest.NewRequest(fiber.MethodGet, "/swagger/doc.json", nil)
	req.Host = host
	if proto != "" {
		req.Header.Set("X-Forwarded-Proto", proto)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		return swaggerDoc{}, 0, err
	}
	defer resp.Body.Close()

	var doc swaggerDoc
	err = json.NewDecoder(resp.Body).Decode(&doc)
	return doc, resp.StatusCode, err
}

func TestSwagger(t *testing.T) {
	app := fiber.New()
	app.Get("/swagger/*", Swagger())

	tests := []struct {
		name        string
		host        string
		proto       string
		wantSchemes []string
	}{
		{name: "plain request", host: "docs.local:8080", wantSchemes: []string{"http"}},
		{name: "behind proxy", host: "vault.example.com", proto: "https, http", wantSchemes: []string{"https"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, status, err := getSwaggerDoc(app, tt.host, tt.proto)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusOK, status)
			assert.Equal(t, tt.host, doc.Host)
			assert.Equal(t, tt.wantSchemes, doc.Schemes)
		})
	}
}

func TestSwagger_ConcurrentHostsDoNotMix(t *testing.T) {
	app := fiber.New()
	app.Get("/swagger/*", Swagger())

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			host := fmt.Sprintf("node-%d.local", i)

			doc, status, err := getSwaggerDoc(app, host, "")
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, fiber.StatusOK, status)
			assert.Equal(t, host, doc.Host)
		}()
	}
	wg.Wait()
}
