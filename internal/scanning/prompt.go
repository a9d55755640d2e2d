package scanning

// invoiceScanPrompt is shared by the vision model scanners
const invoiceScanPrompt = `You are reading a supplier invoice. Carefully read all text on every page and extract:

1. **Invoice**: the invoice number and date printed by the supplier, plus any proforma or letter of credit numbers.
2. **Delivery**: the delivery terms exactly as printed (for example "CIF Haifa" or "FOB Istanbul"), the shipment method and the order number.
3. **Items**: every line item with its description, quantity, unit of measure, unit price, currency code and line total.
4. **Totals**: the invoice currency code and the grand total.

Return ONLY valid JSON in this exact format:
{
  "invoice": {"number": "", "date": "YYYY-MM-DD", "proformaNumber": "", "lcNumber": ""},
  "delivery": {"terms": "", "shipmentVia": "", "orderNumber": ""},
  "items": [
    {"description": "", "quantity": 0, "unit": "", "unitPrice": 0.00, "currency": "USD", "total": 0.00}
  ],
  "totals": {"currency": "USD", "amount": 0.00}
}

Important:
- quantity, unitPrice, total and amount must be numbers, not strings
- currency must be a three letter ISO 4217 code
- List items in the order they appear on the invoice
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON`
