package api

import (
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"upldis/cfg"
	"upldis/svc/util"
)

const headerWidth = 70 - 6

const infoTemplate = `{{.Host}}(1){{.Padding}}{{.HostCaps}}{{.Padding}}{{.Host}}(1)

 NAME
     {{.Host}} - content addressed pastebin for the command line

 SYNOPSIS
     # Show this page
     curl {{.Host}} -L

     # Upload a file
     curl {{.Host}} -LT <file>

     # Upload command output
     <command> | curl {{.Host}} -LT -

 DESCRIPTION
     Pastes are created with HTTP PUT. The response is a URL whose id
     is the start of the base58 encoded blake3 hash of the content, so
     uploading the same bytes twice always yields the same URL. A file
     name after the id is cosmetic and ignored on download.

     Content is removed from storage once the storage TTL runs out.
     Copies that were already fetched may still be served from cache
     until the cache TTL runs out.

 NOTES
     * Maximum file size  :  {{.MaxSize}}
     * Storage TTL        :  {{.StoreTTL}}
     * Cache TTL          :  {{.CacheTTL}}
     * All time uploads   :  {{.Uploads}}

 EXAMPLES
     $ seq 1 20 | curl {{.Host}} -LT -
       https://{{.Host}}/4vRk8Tq2

     $ curl https://{{.Host}}/4vRk8Tq2
       1
       2
       ...

 CAVEATS
     Do not upload material you have no right to share.
`

type infoPage struct {
	Host     string
	HostCaps string
	Padding  string
	MaxSize  string
	StoreTTL string
	CacheTTL string
	Uploads  int64
}

func newInfoPage(host string, l cfg.Limits, uploads int64) infoPage {
	return infoPage{
		Host:     host,
		HostCaps: cases.Upper(language.Und).String(host),
		Padding:  headerPadding(host),
		MaxSize:  humanize.IBytes(uint64(l.MaxContentSize)),
		StoreTTL: util.FormatDuration(l.StoreTTL),
		CacheTTL: util.FormatDuration(l.CacheTTL),
		Uploads:  uploads,
	}
}

// headerPadding centres the upper-cased host between the two "host(1)"
// markers of a man page style header.
func headerPadding(host string) string {
	n := 2
	if w := 3 * len(host); w < headerWidth {
		if p := (headerWidth-w)/2 + 1; p > n {
			n = p
		}
	}
	return strings.Repeat(" ", n)
}
