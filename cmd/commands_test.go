package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crmdash/internal/domain/lead"
	"crmdash/internal/infrastructure/datasource"
)

func writeTestConfig(t *testing.T, endpoint string) string {
	t.Helper()
	content := strings.Join([]string{
		"log:",
		"  level: error",
		"storage:",
		"  driver: memory",
		"datasource:",
		"  endpoint: " + endpoint + datasource.LeadsPath,
		"identity:",
		"  employee_id: emp1",
		"  email: a@x.com",
	}, "\n")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		_ = leadsCmd.PersistentFlags().Set("json", "false")
	})

	err := Execute(context.Background())
	return out.String(), err
}

func TestLeadsListCommand(t *testing.T) {
	mock := datasource.NewMockServer(datasource.MockOptions{Leads: 3})
	server := httptest.NewServer(mock.Handler())
	t.Cleanup(server.Close)
	config := writeTestConfig(t, server.URL)

	out, err := executeCommand(t, "leads", "list", "--config", config)
	if err != nil {
		t.Fatalf("leads list error = %v", err)
	}
	if !strings.Contains(out, "CRM-LEAD-0001") || !strings.Contains(out, "3 lead(s)") {
		t.Fatalf("leads list output = %q", out)
	}
}

func TestLeadsListJSONCommand(t *testing.T) {
	mock := datasource.NewMockServer(datasource.MockOptions{Leads: 2})
	server := httptest.NewServer(mock.Handler())
	t.Cleanup(server.Close)
	config := writeTestConfig(t, server.URL)

	out, err := executeCommand(t, "leads", "list", "--json", "--config", config)
	if err != nil {
		t.Fatalf("leads list --json error = %v", err)
	}
	var items []lead.Lead
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if len(items) != 2 || items[0].Status != lead.StatusNew || items[0].AssignedTo != "emp1" {
		t.Fatalf("items = %+v", items)
	}
}

func TestCacheStatsCommand(t *testing.T) {
	server := httptest.NewServer(datasource.NewMockServer(datasource.MockOptions{}).Handler())
	t.Cleanup(server.Close)
	config := writeTestConfig(t, server.URL)

	out, err := executeCommand(t, "cache", "stats", "--config", config)
	if err != nil {
		t.Fatalf("cache stats error = %v", err)
	}
	for _, want := range []string{"crm_leads_cache", "crm_lead_details_cache", "crm_comments_cache", "crm_tasks_cache", "ttl=30m0s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("cache stats output missing %q: %q", want, out)
		}
	}
}

func TestWriteLeadTable(t *testing.T) {
	var out bytes.Buffer
	err := writeLeadTable(&out, []lead.Lead{{ID: "L1", Name: "Ada", Company: "Acme", Status: lead.StatusQualified}})
	if err != nil {
		t.Fatalf("writeLeadTable() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[0], "id") || !strings.Contains(lines[1], "qualified") || lines[2] != "1 lead(s)" {
		t.Fatalf("table = %q", out.String())
	}
}

func TestCacheInvalidateCommand(t *testing.T) {
	server := httptest.NewServer(datasource.NewMockServer(datasource.MockOptions{}).Handler())
	t.Cleanup(server.Close)
	config := writeTestConfig(t, server.URL)

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "collection", args: []string{"leads"}, want: "invalidated leads"},
		{name: "detail entry", args: []string{"details", "L1"}, want: "invalidated details/L1"},
		{name: "missing lead id", args: []string{"comments"}, wantErr: true},
		{name: "unknown namespace", args: []string{"bogus"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"cache", "invalidate"}, tt.args...)
			out, err := executeCommand(t, append(args, "--config", config)...)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, output %q", out)
				}
				return
			}
			if err != nil {
				t.Fatalf("cache invalidate error = %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Fatalf("output = %q, want %q", out, tt.want)
			}
		})
	}
}
