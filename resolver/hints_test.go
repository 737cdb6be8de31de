package resolver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarthomeos/tinydns/dnsmsg"
)

const sampleHints = `
; Root hints fragment
.                3600000      NS    a.root-servers.net
a.root-servers.net  3600000   A     198.41.0.4
a.root-servers.net  3600000   AAAA  2001:503:ba3e::2:30
4.0.41.198.in-addr.arpa 3600000 PTR a.root-servers.net
old.example      300          CNAME new.example
weird.example    60           TYPE99 payload
`

func TestParseHints(t *testing.T) {
	records, err := ParseHints(strings.NewReader(sampleHints))
	require.NoError(t, err)
	require.Len(t, records, 6)

	assert.Equal(t, dnsmsg.TypeNS, records[0].Type)
	assert.True(t, records[0].Data.(*dnsmsg.NS).Host.Equal(
		dnsmsg.MustParseName("a.root-servers.net")))

	assert.Equal(t, "198.41.0.4", records[1].Data.(*dnsmsg.A).Addr.String())
	assert.Equal(t, uint32(3600000), records[1].TTL)

	assert.Equal(t, "2001:503:ba3e::2:30", records[2].Data.(*dnsmsg.AAAA).Addr.String())

	assert.Equal(t, dnsmsg.TypePTR, records[3].Type)
	assert.Equal(t, dnsmsg.TypeCNAME, records[4].Type)

	// Unknown mnemonics are carried opaque.
	_, opaque := records[5].Data.(*dnsmsg.Opaque)
	assert.True(t, opaque)
}

func TestParseHintsRejectsBadLines(t *testing.T) {
	cases := []string{
		"too few columns\n",
		"a.example notanumber A 1.2.3.4\n",
		"a.example 300 A not-an-address\n",
		"a.example 300 AAAA 1.2.3.4\n",
	}
	for _, c := range cases {
		_, err := ParseHints(strings.NewReader(c))
		assert.Error(t, err, "input %q", c)
	}
}

func TestLoadHints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "root.hints")
	require.NoError(t, os.WriteFile(path, []byte(sampleHints), 0o644))

	servers, err := LoadHints(path)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "198.41.0.4", servers[0].Addr.String())
	assert.Equal(t, DoHNo, servers[0].DoH)
}

func TestPresets(t *testing.T) {
	assert.Equal(t, "1.1.1.1", Cloudflare()[0].Addr.String())
	assert.Equal(t, DoHYes, Cloudflare()[0].DoH)
	assert.Equal(t, "8.8.8.8", Google()[0].Addr.String())
	assert.Len(t, RootServers(), 13)
}

func TestPrivateAddr(t *testing.T) {
	private := []string{
		"127.0.0.1", "10.1.2.3", "172.16.0.1", "172.31.255.1",
		"192.168.0.1", "169.254.10.10", "::1", "fe80::1", "fd00::1", "fec0::1",
	}
	for _, a := range private {
		assert.True(t, privateAddr(mustIP(a)), a)
	}

	public := []string{"8.8.8.8", "1.1.1.1", "172.32.0.1", "2001:4860:4860::8888"}
	for _, a := range public {
		assert.False(t, privateAddr(mustIP(a)), a)
	}
}

func TestPrivateQuestion(t *testing.T) {
	assert.True(t, privateQuestion(dnsmsg.Question{Name: dnsmsg.MustParseName("printer.local")}))
	assert.True(t, privateQuestion(dnsmsg.Question{Name: dnsmsg.Name{"intranet"}}))
	assert.False(t, privateQuestion(dnsmsg.Question{Name: dnsmsg.MustParseName("example.com")}))
	assert.False(t, privateQuestion(dnsmsg.Question{Name: dnsmsg.MustParseName("local.example.com")}))
}
