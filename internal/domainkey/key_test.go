package domainkey

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sidA = "S-1-5-21-1111111111-2222222222-3333333333"
	sidB = "S-1-5-21-444444444-555555555-666666666"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		dns         string
		sid         string
		netbios     string
		wantName    string
		wantSID     string
		wantErr     bool
		errContains string
	}{
		{name: "full", dns: "Example.COM", sid: sidA, netbios: "EXAMPLE", wantName: "example.com", wantSID: sidA},
		{name: "name only", dns: "corp.example.com", wantName: "corp.example.com"},
		{name: "sid only", sid: sidA, wantSID: sidA},
		{name: "lower-case sid prefix", sid: "s-1-5-21-1-2-3", wantSID: "S-1-5-21-1-2-3"},
		{name: "name equal to sid is dropped", dns: sidA, sid: sidA, wantSID: sidA},
		{name: "invalid sid", dns: "example.com", sid: "S-1-x", wantErr: true, errContains: "invalid domain SID"},
		{name: "empty", wantErr: true, errContains: "requires"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := New(tt.dns, tt.sid, tt.netbios)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, k.Name())
			assert.Equal(t, tt.wantSID, k.SID())
			assert.Equal(t, tt.netbios, k.NetBIOS())
		})
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b *DomainKey
		want bool
	}{
		{name: "same sid different names", a: MustNew("a.example.com", sidA, ""), b: MustNew("b.example.com", sidA, ""), want: true},
		{name: "different sid same name", a: MustNew("example.com", sidA, ""), b: MustNew("example.com", sidB, ""), want: false},
		{name: "one sid missing names match", a: MustNew("example.com", sidA, ""), b: MustNew("EXAMPLE.com", "", ""), want: true},
		{name: "one sid missing names differ", a: MustNew("example.com", sidA, ""), b: MustNew("other.com", "", ""), want: false},
		{name: "netbios only", a: MustNew("", "", "EXAMPLE"), b: MustNew("", "", "example"), want: true},
		{name: "nothing comparable", a: MustNew("example.com", "", ""), b: MustNew("", sidA, ""), want: false},
		{name: "nil and nil", want: true},
		{name: "nil and key", a: MustNew("example.com", "", ""), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
			assert.Equal(t, tt.want, Equal(tt.b, tt.a))
		})
	}
}

func TestEqual_DoesNotModify(t *testing.T) {
	a := MustNew("example.com", sidA, "")
	b := MustNew("example.com", "", "EXAMPLE")

	require.True(t, Equal(a, b))
	assert.Empty(t, b.SID())
	assert.Empty(t, a.NetBIOS())
}

func TestReconcile(t *testing.T) {
	a := MustNew("example.com", sidA, "")
	b := MustNew("EXAMPLE.COM", "", "EXAMPLE")

	require.True(t, Reconcile(a, b))
	assert.Equal(t, sidA, b.SID())
	assert.Equal(t, "EXAMPLE", a.NetBIOS())
	assert.True(t, a.IsComplete())
	assert.True(t, b.IsComplete())

	// Idempotent: a second pass changes nothing.
	require.True(t, Reconcile(b, a))
	assert.Equal(t, sidA, a.SID())
	assert.Equal(t, "example.com", b.Name())
}

func TestReconcile_SIDIsAuthoritative(t *testing.T) {
	a := MustNew("example.com", sidA, "")
	b := MustNew("example.com", sidB, "")

	assert.False(t, Reconcile(a, b))
	assert.Equal(t, sidA, a.SID())
	assert.Equal(t, sidB, b.SID())
}

func TestReconcile_Concurrent(t *testing.T) {
	a := MustNew("example.com", sidA, "")
	b := MustNew("example.com", "", "EXAMPLE")

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				Reconcile(a, b)
			} else {
				Reconcile(b, a)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, sidA, b.SID())
	assert.Equal(t, "EXAMPLE", a.NetBIOS())
}

func TestSort(t *testing.T) {
	keys := []*DomainKey{
		MustNew("b.example.com", sidA, ""),
		MustNew("a.example.com", sidB, ""),
		MustNew("a.example.com", sidA, ""),
		MustNew("", sidB, ""),
	}

	Sort(keys)

	got := make([]string, 0, len(keys))
	for _, k := range keys {
		got = append(got, k.String())
	}
	assert.Equal(t, []string{
		sidB,
		"a.example.com (" + sidA + ")",
		"a.example.com (" + sidB + ")",
		"b.example.com (" + sidA + ")",
	}, got)
}
