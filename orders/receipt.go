package orders

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"emporium/models"

	"github.com/phpdave11/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

func receiptSignature(secret []byte, data string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// ReceiptCode is the payload printed as a QR code on a receipt:
// orderId|userId|signature.
func ReceiptCode(secret []byte, orderID, userID string) string {
	data := orderID + "|" + userID
	return data + "|" + receiptSignature(secret, data)
}

// VerifyReceiptCode checks a scanned receipt code and returns the order and
// user it names.
func VerifyReceiptCode(secret []byte, code string) (orderID, userID string, ok bool) {
	parts := strings.Split(code, "|")
	if len(parts) != 3 {
		return "", "", false
	}
	want := receiptSignature(secret, parts[0]+"|"+parts[1])
	if !hmac.Equal([]byte(want), []byte(parts[2])) {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func renderReceipt(o *models.Order, lines []models.ResolvedLine, customer string, secret []byte) ([]byte, error) {
	qrPNG, err := qrcode.Encode(ReceiptCode(secret, o.ID.Hex(), o.User.Hex()), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("qr code: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Order Receipt")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 12)
	pdf.Cell(0, 8, "Order: "+o.ID.Hex())
	pdf.Ln(8)
	pdf.Cell(0, 8, "Customer: "+customer)
	pdf.Ln(8)
	pdf.Cell(0, 8, "Date: "+o.CreatedAt.Format("2006-01-02 15:04"))
	pdf.Ln(8)
	pdf.Cell(0, 8, fmt.Sprintf("Status: %s / payment %s (%s)", o.Status, o.PaymentStatus, o.PaymentMethod))
	pdf.Ln(12)

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(90, 8, "Item", "B", 0, "L", false, 0, "")
	pdf.CellFormat(20, 8, "Qty", "B", 0, "R", false, 0, "")
	pdf.CellFormat(30, 8, "Price", "B", 0, "R", false, 0, "")
	pdf.CellFormat(30, 8, "Total", "B", 1, "R", false, 0, "")

	pdf.SetFont("Arial", "", 11)
	total := decimal.Zero
	for _, l := range lines {
		name := "Unavailable product " + l.ProductID.Hex()
		price := decimal.Zero
		if l.Product != nil {
			name = l.Product.Name
			price = decimal.NewFromFloat(l.Product.Price)
		}
		lineTotal := price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		total = total.Add(lineTotal)

		pdf.CellFormat(90, 8, name, "", 0, "L", false, 0, "")
		pdf.CellFormat(20, 8, fmt.Sprint(l.Quantity), "", 0, "R", false, 0, "")
		pdf.CellFormat(30, 8, price.StringFixed(2), "", 0, "R", false, 0, "")
		pdf.CellFormat(30, 8, lineTotal.StringFixed(2), "", 1, "R", false, 0, "")
	}
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(140, 10, "Total", "T", 0, "R", false, 0, "")
	pdf.CellFormat(30, 10, total.StringFixed(2), "T", 1, "R", false, 0, "")

	imageOpts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", imageOpts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", 150, 20, 40, 40, false, imageOpts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
