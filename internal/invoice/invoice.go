// Package invoice implements InvoiceDispatcher: a background worker
// that renders and emails an order's invoice on its own database
// session, independent of the request that triggered it.
package invoice

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	gomail "github.com/wneessen/go-mail"

	"macroferro-bot/internal/domain"
	"macroferro-bot/internal/metrics"
)

// dispatchBudget is the total time a background invoice task gets,
// covering the PDF render and every send attempt.
const dispatchBudget = 2 * time.Minute

// maxAttempts and the backoff schedule bound the retry loop; each
// attempt still has to fit inside dispatchBudget.
const maxAttempts = 3

var backoffSchedule = []time.Duration{0, 30 * time.Second, 90 * time.Second}

// Store is the subset of CatalogStore this worker needs. It must be
// backed by its own connection, never the request's.
type Store interface {
	GetOrderWithItems(ctx context.Context, orderID string) (*domain.OrderWithItems, error)
	SetOrderInvoiceURL(ctx context.Context, orderID, url string) error
	RecordInvoiceDispatchFailure(ctx context.Context, orderID string, attempts int, lastErr string) error
}

// Mailer sends the rendered invoice; abstracted so dispatch logic
// doesn't depend on the SMTP transport directly.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string, attachmentName string, attachment []byte) error
}

// Dispatcher runs enqueued invoice jobs on a bounded worker pool, each
// rooted in its own context independent of whatever request enqueued
// it.
type Dispatcher struct {
	store   Store
	mailer  Mailer
	logger  *slog.Logger
	metrics *metrics.Metrics
	jobs    chan string
	done    chan struct{}
}

// New builds a Dispatcher with the given worker concurrency.
func New(store Store, mailer Mailer, workers int, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	d := &Dispatcher{
		store:   store,
		mailer:  mailer,
		logger:  logger.With("component", "invoice_dispatcher"),
		metrics: m,
		jobs:    make(chan string, 256),
		done:    make(chan struct{}, workers),
	}
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Enqueue returns immediately; the dispatch runs on a background
// worker.
func (d *Dispatcher) Enqueue(orderID string) {
	select {
	case d.jobs <- orderID:
	default:
		d.logger.Error("invoice queue full, dropping enqueue", "order_id", orderID)
		d.metrics.InvoiceDispatch.WithLabelValues("queue_full").Inc()
	}
}

// Shutdown stops accepting new jobs and waits for in-flight ones to
// finish draining, up to the caller's context deadline.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	close(d.jobs)
	for i := 0; i < cap(d.done); i++ {
		select {
		case <-d.done:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) worker() {
	for orderID := range d.jobs {
		d.dispatch(orderID)
	}
	d.done <- struct{}{}
}

func (d *Dispatcher) dispatch(orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchBudget)
	defer cancel()

	order, err := d.store.GetOrderWithItems(ctx, orderID)
	if err != nil {
		d.logger.Error("invoice dispatch: load order failed", "order_id", orderID, "error", err)
		d.metrics.InvoiceDispatch.WithLabelValues("load_error").Inc()
		return
	}

	pdf, err := renderInvoicePDF(order.Order, order.Items)
	if err != nil {
		d.logger.Error("invoice dispatch: render failed", "order_id", orderID, "error", err)
		d.metrics.InvoiceDispatch.WithLabelValues("render_error").Inc()
		return
	}

	subject := "Your Macroferro order " + order.Order.ID
	body := invoiceEmailBody(order.Order)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoffSchedule[attempt])
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				lastErr = ctx.Err()
				break
			}
			if ctx.Err() != nil {
				break
			}
		}

		lastErr = d.mailer.Send(ctx, order.Order.CustomerEmail, subject, body, order.Order.ID+".pdf", pdf)
		if lastErr == nil {
			d.metrics.InvoiceDispatch.WithLabelValues("sent").Inc()
			// No hosted copy of the PDF exists in this build (upload is
			// out of scope), so there is no url to record here.
			return
		}
		d.logger.Warn("invoice dispatch: send attempt failed", "order_id", orderID, "attempt", attempt+1, "error", lastErr)
	}

	d.metrics.InvoiceDispatch.WithLabelValues("failed").Inc()
	if err := d.store.RecordInvoiceDispatchFailure(ctx, orderID, maxAttempts, lastErr.Error()); err != nil {
		d.logger.Error("invoice dispatch: failed to record failure audit", "order_id", orderID, "error", err)
	}
}

// renderInvoicePDF builds a simple one-page invoice.
func renderInvoicePDF(order domain.Order, items []domain.OrderItemWithProduct) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, "Macroferro")
	pdf.Ln(12)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, "Invoice "+order.ID)
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, "Customer: "+order.CustomerName+" <"+order.CustomerEmail+">")
	pdf.Ln(6)
	pdf.Cell(0, 6, "Shipping address: "+order.ShippingAddr)
	pdf.Ln(10)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(90, 7, "Item", "1", 0, "L", false, 0, "")
	pdf.CellFormat(25, 7, "Qty", "1", 0, "R", false, 0, "")
	pdf.CellFormat(35, 7, "Unit price", "1", 0, "R", false, 0, "")
	pdf.CellFormat(35, 7, "Subtotal", "1", 1, "R", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	for _, item := range items {
		subtotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		pdf.CellFormat(90, 7, item.ProductName+" ("+item.SKU+")", "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 7, fmt.Sprintf("%d", item.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 7, item.UnitPrice.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 7, subtotal.StringFixed(2), "1", 1, "R", false, 0, "")
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(0, 8, "Total: "+order.TotalAmount.StringFixed(2))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render invoice pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func invoiceEmailBody(order domain.Order) string {
	return fmt.Sprintf(
		"<p>Hi %s,</p><p>Thanks for your order <b>%s</b>. Your invoice is attached.</p><p>Total: %s</p>",
		order.CustomerName, order.ID, order.TotalAmount.StringFixed(2),
	)
}

// SMTPMailer sends mail via an SMTP relay, using the credentials given
// at construction.
type SMTPMailer struct {
	client *gomail.Client
	from   string
}

// NewSMTPMailer dials an SMTP relay eagerly so configuration errors
// surface at startup rather than on the first dispatch.
func NewSMTPMailer(host string, port int, username, password, from string) (*SMTPMailer, error) {
	client, err := gomail.NewClient(host,
		gomail.WithPort(port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(username),
		gomail.WithPassword(password),
	)
	if err != nil {
		return nil, fmt.Errorf("build smtp client: %w", err)
	}
	return &SMTPMailer{client: client, from: from}, nil
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody, attachmentName string, attachment []byte) error {
	msg := gomail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlBody)
	msg.AttachReader(attachmentName, bytes.NewReader(attachment))

	return m.client.DialAndSendWithContext(ctx, msg)
}
