package scanning

const receiptSchema = `{
  "vendor": "Store Name",
  "purchase_date": "YYYY-MM-DD",
  "total_amount": 0.00,
  "items": [
    {"description": "Item name", "amount": 0.00}
  ]
}`

// receiptScanPrompt is the shared prompt used by all LLM providers for scanning receipt images
const receiptScanPrompt = `You are analyzing a photographed receipt. Carefully read all text in the image and extract:

1. **Vendor**: the merchant or store name, usually the largest text at the top of the receipt.

2. **Purchase date**: the transaction date, converted to ISO 8601 (YYYY-MM-DD).

3. **Total amount**: the final total, grand total or amount due, as a plain number (42.75 for $42.75).

4. **Items**: every purchased line with its description and line amount, in the order printed.

Return ONLY valid JSON in this exact format:
` + receiptSchema + `

Important:
- Amounts must be numbers, not strings, without currency symbols
- The date must be in YYYY-MM-DD format
- If you cannot find a field, use null for that field; use an empty list if no items are legible
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// receiptTextPrompt asks a text model to structure OCR output
const receiptTextPrompt = `The following text was read from a receipt by OCR. It may contain recognition noise.
Extract the vendor, purchase date (YYYY-MM-DD), total amount and line items.

Return ONLY valid JSON in this exact format:
` + receiptSchema + `

Use null for fields you cannot find, numbers for amounts, and no text outside the JSON.

OCR text:
`
