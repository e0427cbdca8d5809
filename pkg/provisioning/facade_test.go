package provisioning_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/Mindburn-Labs/halyard/pkg/clientapps"
	"github.com/Mindburn-Labs/halyard/pkg/config"
	"github.com/Mindburn-Labs/halyard/pkg/credentials"
	"github.com/Mindburn-Labs/halyard/pkg/provisioning"
	"github.com/Mindburn-Labs/halyard/pkg/store"
)

type facadeEnv struct {
	destinations *store.MemoryDestinationStore
	deliveries   *store.MemoryDeliveryStore
	mappings     *store.MemoryMappingStore
	apps         *clientapps.MemoryStore
	creds        *credentials.MemoryStore
	svc          *provisioning.DestinationService
}

func newFacadeEnv(t *testing.T) *facadeEnv {
	t.Helper()
	filter, err := provisioning.NewEventFilter()
	if err != nil {
		t.Fatalf("event filter: %v", err)
	}
	cipher, err := credentials.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	env := &facadeEnv{
		destinations: store.NewMemoryDestinationStore(),
		deliveries:   store.NewMemoryDeliveryStore(),
		mappings:     store.NewMemoryMappingStore(),
		apps:         clientapps.NewMemoryStore(),
		creds:        credentials.NewMemoryStore(cipher),
	}
	env.svc = provisioning.NewDestinationService(
		env.destinations, env.deliveries, env.mappings, env.apps, filter,
		provisioning.WithStaticCredentials(env.creds))
	return env
}

func baseInput() provisioning.DestinationInput {
	return provisioning.DestinationInput{
		Name:    "Acme Directory",
		BaseURL: "https://scim.acme.test/v2",
	}
}

// ── Create ────────────────────────────────────────────────────

func TestFacadeCreate_AutoProvisionsClientApp(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)
	ctx := context.Background()

	in := baseInput()
	in.EnabledOperations = []provisioning.OperationKind{provisioning.OpCreateUser, provisioning.OpUpdateUser}
	res, err := env.svc.CreateDestination(ctx, "tenant-1", in)
	if err != nil {
		t.Fatalf("CreateDestination: %v", err)
	}

	if !strings.HasPrefix(res.ClientSecret, "scim_") {
		t.Errorf("secret = %q, want one-shot scim_ secret", res.ClientSecret)
	}
	dest := res.Destination
	if dest.ClientAppID == "" {
		t.Fatal("no client app bound")
	}

	// The provisioned app carries exactly what the enabled operations need.
	scopes, err := env.apps.ApplicationScopes(ctx, dest.ClientAppID)
	if err != nil {
		t.Fatalf("ApplicationScopes: %v", err)
	}
	want := provisioning.RequiredScopes(in.EnabledOperations)
	if !reflect.DeepEqual(scopes, want) {
		t.Errorf("app scopes = %v, want %v", scopes, want)
	}

	app, err := env.apps.GetApplication(ctx, dest.ClientAppID)
	if err != nil {
		t.Fatalf("GetApplication: %v", err)
	}
	if !strings.Contains(app.Name, "Acme Directory") {
		t.Errorf("app name = %q, want derived from destination", app.Name)
	}

	// The tenant's scope registry was primed with the full SCIM set.
	tenantScopes, err := env.apps.TenantScopes(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("TenantScopes: %v", err)
	}
	if len(tenantScopes) != len(provisioning.AllSCIMScopes) {
		t.Errorf("tenant scopes = %v, want all four", tenantScopes)
	}

	loaded, err := env.svc.GetDestination(ctx, dest.ID)
	if err != nil {
		t.Fatalf("GetDestination: %v", err)
	}
	if loaded.RetryPolicy != provisioning.DefaultRetryPolicy() {
		t.Errorf("retry policy = %+v, want defaults", loaded.RetryPolicy)
	}
	if loaded.AuthMode != provisioning.AuthModeOAuthJWT || loaded.DeleteAction != provisioning.DeleteActionDeactivate {
		t.Errorf("defaults = %s/%s, want OAUTH_JWT/DEACTIVATE", loaded.AuthMode, loaded.DeleteAction)
	}
	if !loaded.Enabled {
		t.Error("destination must default to enabled")
	}
}

func TestFacadeCreate_EmptyOperationsMeansAll(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)

	res, err := env.svc.CreateDestination(context.Background(), "tenant-1", baseInput())
	if err != nil {
		t.Fatalf("CreateDestination: %v", err)
	}
	if !reflect.DeepEqual(res.Destination.EnabledOperations, provisioning.AllOperations) {
		t.Errorf("ops = %v, want every operation", res.Destination.EnabledOperations)
	}
}

func TestFacadeCreate_SuppliedAppMustHoldScopes(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)
	ctx := context.Background()

	appID, _, err := env.apps.CreateApplication(ctx, "tenant-1", "ops-client",
		[]string{provisioning.ScopeUsersWrite})
	if err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}

	// User-only operations fit the grant.
	in := baseInput()
	in.ClientAppID = appID
	in.EnabledOperations = []provisioning.OperationKind{provisioning.OpCreateUser, provisioning.OpDeactivateUser}
	res, err := env.svc.CreateDestination(ctx, "tenant-1", in)
	if err != nil {
		t.Fatalf("CreateDestination with sufficient app: %v", err)
	}
	if res.ClientSecret != "" {
		t.Error("no secret may be returned for a pre-existing app")
	}

	// Group operations exceed it.
	in2 := baseInput()
	in2.Name = "Acme Directory Two"
	in2.ClientAppID = appID
	in2.EnabledOperations = []provisioning.OperationKind{provisioning.OpCreateGroup}
	_, err = env.svc.CreateDestination(ctx, "tenant-1", in2)
	var scopeErr *provisioning.ScopeError
	if !errors.As(err, &scopeErr) {
		t.Fatalf("err = %v, want ScopeError", err)
	}
	if len(scopeErr.Missing) != 1 || scopeErr.Missing[0] != provisioning.ScopeGroupsWrite {
		t.Errorf("missing = %v, want [scim:groups:write]", scopeErr.Missing)
	}
}

func TestFacadeCreate_SupersetGrantPasses(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)
	ctx := context.Background()

	appID, _, err := env.apps.CreateApplication(ctx, "tenant-1", "wide-client", provisioning.AllSCIMScopes)
	if err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}
	in := baseInput()
	in.ClientAppID = appID
	in.EnabledOperations = provisioning.AllOperations
	if _, err := env.svc.CreateDestination(ctx, "tenant-1", in); err != nil {
		t.Fatalf("superset grant rejected: %v", err)
	}
}

func TestFacadeCreate_UnknownClientApp(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)

	in := baseInput()
	in.ClientAppID = "app-ghost"
	_, err := env.svc.CreateDestination(context.Background(), "tenant-1", in)
	var verr *provisioning.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestFacadeCreate_Validations(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*provisioning.DestinationInput)
	}{
		{"empty name", func(in *provisioning.DestinationInput) { in.Name = "  " }},
		{"missing base url", func(in *provisioning.DestinationInput) { in.BaseURL = "" }},
		{"relative base url", func(in *provisioning.DestinationInput) { in.BaseURL = "/scim/v2" }},
		{"bad scheme", func(in *provisioning.DestinationInput) { in.BaseURL = "ftp://scim.acme.test" }},
		{"unknown operation", func(in *provisioning.DestinationInput) {
			in.EnabledOperations = []provisioning.OperationKind{"SYNC_EVERYTHING"}
		}},
		{"bad delete action", func(in *provisioning.DestinationInput) { in.DeleteAction = "PURGE" }},
		{"bad auth mode", func(in *provisioning.DestinationInput) { in.AuthMode = "MTLS" }},
		{"zero initial backoff", func(in *provisioning.DestinationInput) {
			in.RetryPolicy = &provisioning.RetryPolicy{MaxRetries: 3, InitialBackoffMs: 0, MaxBackoffMs: 1000, Multiplier: 2}
		}},
		{"cap below initial", func(in *provisioning.DestinationInput) {
			in.RetryPolicy = &provisioning.RetryPolicy{MaxRetries: 3, InitialBackoffMs: 5000, MaxBackoffMs: 1000, Multiplier: 2}
		}},
		{"multiplier below one", func(in *provisioning.DestinationInput) {
			in.RetryPolicy = &provisioning.RetryPolicy{MaxRetries: 3, InitialBackoffMs: 1000, MaxBackoffMs: 5000, Multiplier: 0.5}
		}},
		{"negative retries", func(in *provisioning.DestinationInput) {
			in.RetryPolicy = &provisioning.RetryPolicy{MaxRetries: -1, InitialBackoffMs: 1000, MaxBackoffMs: 5000, Multiplier: 2}
		}},
		{"broken filter", func(in *provisioning.DestinationInput) { in.FilterExpression = "event.resource_type ==" }},
		{"broken mapping target", func(in *provisioning.DestinationInput) {
			in.AttributeMapping = map[string]string{"emails[x].value": "$.user.email"}
		}},
		{"empty mapping source", func(in *provisioning.DestinationInput) {
			in.AttributeMapping = map[string]string{"userName": "  "}
		}},
		{"static bearer without token", func(in *provisioning.DestinationInput) {
			in.AuthMode = provisioning.AuthModeStaticBearer
		}},
	}

	for _, c := range cases {
		in := baseInput()
		c.mutate(&in)
		_, err := env.svc.CreateDestination(ctx, "tenant-1", in)
		var verr *provisioning.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: err = %v, want ValidationError", c.name, err)
		}
	}

	if _, err := env.svc.CreateDestination(ctx, "", baseInput()); err == nil {
		t.Error("empty tenant accepted")
	}
}

func TestFacadeCreate_NameConflict(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)
	ctx := context.Background()

	if _, err := env.svc.CreateDestination(ctx, "tenant-1", baseInput()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := env.svc.CreateDestination(ctx, "tenant-1", baseInput())
	if !errors.Is(err, provisioning.ErrNameTaken) {
		t.Errorf("err = %v, want ErrNameTaken", err)
	}

	// Same name under another tenant is fine.
	if _, err := env.svc.CreateDestination(ctx, "tenant-2", baseInput()); err != nil {
		t.Errorf("cross-tenant name rejected: %v", err)
	}
}

func TestFacadeCreate_StaticBearerStoresCredential(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)
	ctx := context.Background()

	in := baseInput()
	in.AuthMode = provisioning.AuthModeStaticBearer
	in.StaticBearerToken = "long-lived-token"
	res, err := env.svc.CreateDestination(ctx, "tenant-1", in)
	if err != nil {
		t.Fatalf("CreateDestination: %v", err)
	}

	token, err := env.creds.BearerToken(ctx, res.Destination.ID)
	if err != nil {
		t.Fatalf("BearerToken: %v", err)
	}
	if token != "long-lived-token" {
		t.Errorf("stored token = %q", token)
	}
}

// ── Update ────────────────────────────────────────────────────

func TestFacadeUpdate_RechecksScopesOnWidening(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)
	ctx := context.Background()

	in := baseInput()
	in.EnabledOperations = []provisioning.OperationKind{provisioning.OpCreateUser}
	res, err := env.svc.CreateDestination(ctx, "tenant-1", in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// The auto-provisioned app only got users:write.

	wide := baseInput()
	wide.EnabledOperations = provisioning.AllOperations
	_, err = env.svc.UpdateDestination(ctx, res.Destination.ID, wide)
	var scopeErr *provisioning.ScopeError
	if !errors.As(err, &scopeErr) {
		t.Fatalf("err = %v, want ScopeError on widening", err)
	}

	// Narrowing within the grant works and bumps updated_at.
	narrow := baseInput()
	narrow.Name = "Acme Directory Renamed"
	narrow.EnabledOperations = []provisioning.OperationKind{provisioning.OpCreateUser}
	updated, err := env.svc.UpdateDestination(ctx, res.Destination.ID, narrow)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Acme Directory Renamed" {
		t.Errorf("name = %q", updated.Name)
	}
	if updated.UpdatedAt.Before(res.Destination.UpdatedAt) {
		t.Error("updated_at did not advance")
	}
	if updated.CreatedAt != res.Destination.CreatedAt {
		t.Error("created_at must not change on update")
	}
}

func TestFacadeUpdate_UnknownDestination(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)
	_, err := env.svc.UpdateDestination(context.Background(), "dest-ghost", baseInput())
	if !errors.Is(err, provisioning.ErrDestinationNotFound) {
		t.Errorf("err = %v, want ErrDestinationNotFound", err)
	}
}

func TestFacadeUpdate_LeavingStaticAuthDropsCredential(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)
	ctx := context.Background()

	in := baseInput()
	in.AuthMode = provisioning.AuthModeStaticBearer
	in.StaticBearerToken = "long-lived-token"
	res, err := env.svc.CreateDestination(ctx, "tenant-1", in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	back := baseInput()
	back.AuthMode = provisioning.AuthModeOAuthJWT
	if _, err := env.svc.UpdateDestination(ctx, res.Destination.ID, back); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := env.creds.BearerToken(ctx, res.Destination.ID); !errors.Is(err, credentials.ErrNotFound) {
		t.Errorf("credential still present after leaving static auth: %v", err)
	}
}

func TestFacadeUpdate_SwitchToStaticRequiresToken(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)
	ctx := context.Background()

	res, err := env.svc.CreateDestination(ctx, "tenant-1", baseInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sw := baseInput()
	sw.AuthMode = provisioning.AuthModeStaticBearer
	_, err = env.svc.UpdateDestination(ctx, res.Destination.ID, sw)
	var verr *provisioning.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError without token", err)
	}

	sw.StaticBearerToken = "fresh-token"
	if _, err := env.svc.UpdateDestination(ctx, res.Destination.ID, sw); err != nil {
		t.Fatalf("update with token: %v", err)
	}
	token, err := env.creds.BearerToken(ctx, res.Destination.ID)
	if err != nil || token != "fresh-token" {
		t.Errorf("stored token = %q, %v", token, err)
	}
}

// ── Delete ────────────────────────────────────────────────────

func TestFacadeDelete_RemovesMappingsKeepsDeliveries(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)
	ctx := context.Background()

	res, err := env.svc.CreateDestination(ctx, "tenant-1", baseInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	destID := res.Destination.ID

	if err := env.mappings.Upsert(ctx, &provisioning.ResourceMapping{
		DestinationID: destID, LocalType: provisioning.ResourceUser,
		LocalResourceID: "user-1", SCIMResourceID: "scim-1",
	}); err != nil {
		t.Fatalf("seed mapping: %v", err)
	}
	if _, err := env.deliveries.InsertPending(ctx, "evt-1", destID); err != nil {
		t.Fatalf("seed delivery: %v", err)
	}

	if err := env.svc.DeleteDestination(ctx, destID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := env.svc.GetDestination(ctx, destID); !errors.Is(err, provisioning.ErrDestinationNotFound) {
		t.Errorf("get after delete = %v, want ErrDestinationNotFound", err)
	}
	if m, _ := env.mappings.Get(ctx, destID, provisioning.ResourceUser, "user-1"); m != nil {
		t.Error("mapping survived destination delete")
	}
	rows, err := env.deliveries.ListByDestination(ctx, destID, 10, 0)
	if err != nil || len(rows) != 1 {
		t.Errorf("delivery history = %d rows (%v), want 1 retained", len(rows), err)
	}
}

func TestFacadeDelete_UnknownDestination(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)
	err := env.svc.DeleteDestination(context.Background(), "dest-ghost")
	if !errors.Is(err, provisioning.ErrDestinationNotFound) {
		t.Errorf("err = %v, want ErrDestinationNotFound", err)
	}
}

// ── Queries and scope helpers ─────────────────────────────────

func TestFacadeListDeliveries_UnknownDestination(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)
	_, err := env.svc.ListDeliveries(context.Background(), "dest-ghost", 10, 0)
	if !errors.Is(err, provisioning.ErrDestinationNotFound) {
		t.Errorf("err = %v, want ErrDestinationNotFound", err)
	}
}

func TestFacadeValidateApplication(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)
	ctx := context.Background()

	appID, _, err := env.apps.CreateApplication(ctx, "tenant-1", "narrow",
		[]string{provisioning.ScopeUsersWrite})
	if err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}

	ok, missing, err := env.svc.ValidateApplication(ctx, appID,
		[]provisioning.OperationKind{provisioning.OpCreateUser})
	if err != nil || !ok || len(missing) != 0 {
		t.Errorf("user ops = (%t, %v, %v), want valid", ok, missing, err)
	}

	ok, missing, err = env.svc.ValidateApplication(ctx, appID,
		[]provisioning.OperationKind{provisioning.OpAddGroupMember})
	if err != nil || ok {
		t.Errorf("group ops = (%t, %v), want invalid", ok, err)
	}
	if len(missing) != 1 || missing[0] != provisioning.ScopeGroupsWrite {
		t.Errorf("missing = %v, want [scim:groups:write]", missing)
	}
}

func TestFacadeCreate_OutboundHostPolicy(t *testing.T) {
	t.Parallel()
	filter, err := provisioning.NewEventFilter()
	if err != nil {
		t.Fatalf("event filter: %v", err)
	}
	profile := &config.DeploymentProfile{
		Networking: config.NetworkingPolicy{
			OutboundMode: "allowlist",
			Allowlist:    []string{"scim.okta.example"},
		},
	}
	svc := provisioning.NewDestinationService(
		store.NewMemoryDestinationStore(), store.NewMemoryDeliveryStore(),
		store.NewMemoryMappingStore(), clientapps.NewMemoryStore(), filter,
		provisioning.WithBaseURLPolicy(profile.HostAllowed))
	ctx := context.Background()

	in := baseInput()
	in.BaseURL = "https://scim.okta.example/scim/v2"
	if _, err := svc.CreateDestination(ctx, "tenant-1", in); err != nil {
		t.Fatalf("allowlisted host rejected: %v", err)
	}

	in = baseInput()
	in.Name = "Blocked Directory"
	in.BaseURL = "https://attacker.example/scim/v2"
	_, err = svc.CreateDestination(ctx, "tenant-1", in)
	var verr *provisioning.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("off-policy host err = %v, want validation error", err)
	}
}

func TestFacadeListDestinations(t *testing.T) {
	t.Parallel()
	env := newFacadeEnv(t)
	ctx := context.Background()

	for _, name := range []string{"Alpha", "Beta"} {
		in := baseInput()
		in.Name = name
		if _, err := env.svc.CreateDestination(ctx, "tenant-1", in); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	out, err := env.svc.ListDestinations(ctx, "tenant-1")
	if err != nil || len(out) != 2 {
		t.Errorf("list = %d (%v), want 2", len(out), err)
	}
}
