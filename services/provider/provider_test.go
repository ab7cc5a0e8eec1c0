package provider

import (
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanAppPassword(t *testing.T) {
	// Yahoo displays generated app passwords as "abcd efgh ijkl mnop".
	assert.Equal(t, "abcdefghijklmnop", cleanAppPassword("ABCD efgh IJKL mnop"))
	assert.Equal(t, "abcd", cleanAppPassword("  abcd  "))
	assert.Equal(t, "", cleanAppPassword("   "))
}

func TestYahooFolderMap(t *testing.T) {
	p := &IMAPProvider{}

	assert.Equal(t, "Inbox", p.nativeFolder("inbox"))
	assert.Equal(t, "Inbox", p.nativeFolder("INBOX"))
	assert.Equal(t, "Bulk Mail", p.nativeFolder("spam"))
	assert.Equal(t, "Trash", p.nativeFolder("trash"))
	assert.Equal(t, "Archive", p.nativeFolder("archive"))
	// Unknown names pass through untouched for power users.
	assert.Equal(t, "Receipts/2026", p.nativeFolder("Receipts/2026"))
}

func TestIMAPCapabilities(t *testing.T) {
	caps := (&IMAPProvider{}).Capabilities()

	assert.Equal(t, 1, caps.MutationBatchSize)
	assert.False(t, caps.ConcurrentBatches)
	// Trashing expunges the inbox UID, so raw content must be captured
	// before a sweep, never fetched after it.
	assert.False(t, caps.TrashedIDsFetchable)

	assert.True(t, (&GmailProvider{}).Capabilities().TrashedIDsFetchable)
	assert.True(t, (&OutlookProvider{}).Capabilities().TrashedIDsFetchable)
}

func TestUIDSeqSet(t *testing.T) {
	set, err := uidSeqSet([]string{"1", "42", "99"})
	require.NoError(t, err)
	assert.True(t, set.Contains(42))
	assert.False(t, set.Contains(2))

	_, err = uidSeqSet([]string{"not-a-uid"})
	assert.Error(t, err)
}

func TestTranslateIMAPQuery(t *testing.T) {
	t.Run("structured tokens", func(t *testing.T) {
		c := translateIMAPQuery("from:promo@shop.io subject:sale is:unread")

		assert.Equal(t, "promo@shop.io", c.Header.Get("From"))
		assert.Equal(t, "sale", c.Header.Get("Subject"))
		assert.Contains(t, c.WithoutFlags, imap.SeenFlag)
		assert.Empty(t, c.Text)
	})

	t.Run("free text", func(t *testing.T) {
		c := translateIMAPQuery("weekly newsletter")
		assert.Equal(t, []string{"weekly", "newsletter"}, c.Text)
		assert.Empty(t, c.Header)
	})

	t.Run("read flag", func(t *testing.T) {
		c := translateIMAPQuery("is:read")
		assert.Contains(t, c.WithFlags, imap.SeenFlag)
	})

	t.Run("empty query matches everything", func(t *testing.T) {
		c := translateIMAPQuery("   ")
		assert.Empty(t, c.Text)
		assert.Empty(t, c.Header)
		assert.Empty(t, c.WithFlags)
		assert.Empty(t, c.WithoutFlags)
	})
}

func TestGmailLabelForFolder(t *testing.T) {
	assert.Equal(t, "INBOX", gmailLabelForFolder("inbox"))
	assert.Equal(t, "SPAM", gmailLabelForFolder("spam"))
	assert.Equal(t, "TRASH", gmailLabelForFolder("Trash"))
	// Gmail models archive as the absence of INBOX, not a label.
	assert.Equal(t, "", gmailLabelForFolder("archive"))
}

func TestGraphFolderID(t *testing.T) {
	assert.Equal(t, "inbox", graphFolderID("inbox"))
	assert.Equal(t, "junkemail", graphFolderID("spam"))
	assert.Equal(t, "junkemail", graphFolderID("junk"))
	assert.Equal(t, "deleteditems", graphFolderID("trash"))
	assert.Equal(t, "sentitems", graphFolderID("sent"))
	assert.Equal(t, "archive", graphFolderID("archive"))
	assert.Equal(t, "custom-folder-id", graphFolderID("custom-folder-id"))
}
