package refill

import (
	"context"
	"net"
	netsmtp "net/smtp"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/petrol-logger/internal/extract"
	"github.com/zombor/petrol-logger/internal/inbox"
	"github.com/zombor/petrol-logger/internal/ledger"
	"github.com/zombor/petrol-logger/internal/mileage"
)

// chatStub answers every prompt with the next queued reply
type chatStub struct {
	mu      sync.Mutex
	replies []string
	sent    []string
	inbox   []mileage.Message
}

func (c *chatStub) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	if len(c.replies) > 0 {
		c.inbox = append(c.inbox, mileage.Message{Text: c.replies[0], Timestamp: time.Now()})
		c.replies = c.replies[1:]
	}
	return nil
}

func (c *chatStub) LatestMessages(ctx context.Context) ([]mileage.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mileage.Message(nil), c.inbox...), nil
}

func (c *chatStub) prompts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func receiptEmail(id, date, volume string) []byte {
	msg := "From: CaltexGO <noreply@caltex.example>\n" +
		"To: petrol@example.com\n" +
		"Subject: Your receipt\n" +
		"Message-ID: <" + id + "@caltex.example>\n" +
		"MIME-Version: 1.0\n" +
		"Content-Type: text/html; charset=\"utf-8\"\n" +
		"\n" +
		"<h2>Thank You - Successful Payment (CaltexGO)</h2>\n" +
		"<table><tr><td>Transaction Date &amp; Time:</td><td>" + date + "</td></tr>\n" +
		"<tr><td>Volume:</td><td>" + volume + "</td></tr></table>\n"
	return []byte(strings.ReplaceAll(msg, "\n", "\r\n"))
}

var _ = Describe("Pipeline", func() {
	var (
		tmpDir   string
		db       *BoltDB
		book     *ledger.ExcelLedger
		baseline *ledger.FileBaseline
		chat     *chatStub
		service  *Service
		smtpSrv  *inbox.Server
		listener net.Listener
	)

	send := func(msg []byte) {
		Expect(netsmtp.SendMail(listener.Addr().String(), nil, "noreply@caltex.example", []string{"petrol@example.com"}, msg)).To(Succeed())
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()

		var err error
		db, err = NewBoltDB(filepath.Join(tmpDir, "journal.db"))
		Expect(err).NotTo(HaveOccurred())
		archive, err := NewDirArchive(filepath.Join(tmpDir, "rejects"))
		Expect(err).NotTo(HaveOccurred())
		book, err = ledger.NewExcelLedger(filepath.Join(tmpDir, "ledger.xlsx"), ledger.DefaultWorksheet)
		Expect(err).NotTo(HaveOccurred())
		baseline, err = ledger.NewFileBaseline(filepath.Join(tmpDir, "baseline"))
		Expect(err).NotTo(HaveOccurred())
		Expect(baseline.Save(context.Background(), 12000)).To(Succeed())

		chat = &chatStub{replies: []string{"12345", "12800"}}
		confirmer := mileage.NewConfirmer(chat, mileage.RetryPolicy{MaxWait: 5 * time.Second})

		service = NewService(db, extract.NewExtractor(extract.DefaultMarker, extract.NewTableStrategy()), confirmer, book, baseline, archive)

		smtpSrv = inbox.NewServer(inbox.Config{Domain: "test.local"}, service)
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		go smtpSrv.Serve(listener)
	})

	AfterEach(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(smtpSrv.Shutdown(ctx)).To(Succeed())
		db.Close()
	})

	refills := func() []*Refill {
		list, err := db.ListRefills()
		Expect(err).NotTo(HaveOccurred())
		return list
	}

	It("should log emailed receipts to the workbook", func() {
		send(receiptEmail("r1", "2021-08-15,14:30:00", "35.20 litre @ 2.15"))
		Eventually(refills).Should(HaveLen(1))

		send(receiptEmail("r2", "2021-08-20,09:00:00", "30.00 litre @ 2.20"))
		Eventually(refills).Should(HaveLen(2))

		f, err := excelize.OpenFile(filepath.Join(tmpDir, "ledger.xlsx"))
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		date, err := f.GetCellValue(ledger.DefaultWorksheet, "A2")
		Expect(err).NotTo(HaveOccurred())
		Expect(date).To(Equal("150821"))

		miles, err := f.GetCellValue(ledger.DefaultWorksheet, "B3")
		Expect(err).NotTo(HaveOccurred())
		Expect(miles).To(Equal("12800"))

		formula, err := f.GetCellFormula(ledger.DefaultWorksheet, "G3")
		Expect(err).NotTo(HaveOccurred())
		Expect(formula).To(Equal("(B3-B2)/C3"))

		current, err := baseline.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(current).To(Equal(12800))
	})

	It("should reject a malformed receipt without prompting", func() {
		send(receiptEmail("bad", "15/08/2021", "35.20 litre @ 2.15"))

		Eventually(func() []*Reject {
			list, err := db.ListRejects()
			Expect(err).NotTo(HaveOccurred())
			return list
		}).Should(HaveLen(1))
		Expect(chat.prompts()).To(BeZero())

		f, err := excelize.OpenFile(filepath.Join(tmpDir, "ledger.xlsx"))
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		date, err := f.GetCellValue(ledger.DefaultWorksheet, "A2")
		Expect(err).NotTo(HaveOccurred())
		Expect(date).To(BeEmpty())
	})

	It("should ignore mail that is not a receipt", func() {
		send([]byte("From: friend@example.com\r\nTo: petrol@example.com\r\nSubject: hi\r\n\r\nhello\r\n"))
		Consistently(chat.prompts, 200*time.Millisecond).Should(BeZero())
	})
})
