package scanning

// structuredPrompt is shared by every structured engine.
const structuredPrompt = `You are analyzing a photographed receipt or invoice. Carefully read all text in the image and extract the following information:

1. **issuerName**: The merchant, store or business that issued the document, usually the largest text in the header. Examples: "Walmart", "CVS Pharmacy", "Acme GmbH".

2. **date**: The transaction or invoice date, converted to ISO 8601 (YYYY-MM-DD).

3. **subtotal** and **totalAmount**: The amount before tax and the final amount due ("TOTAL", "Amount Due", "Grand Total"). Numbers only, in major currency units (e.g. 42.75).

4. **currency**: The ISO 4217 code (USD, EUR, GBP, ...).

5. **taxBreakdown**: One entry per tax rate printed on the document: {"rate": 19, "base": 100.00, "amount": 19.00}. The rate is a percentage.

6. **registrationNumber**: The issuer's tax or business registration identifier (VAT ID, GST number, ABN, EIN) exactly as printed.

7. **category**: A short expense category such as "groceries", "fuel", "meals", "lodging", "pharmacy", "office supplies".

8. **confidence**: For each field above that you filled in, your confidence between 0 and 1 that the value is correct.

Return ONLY valid JSON in this exact format:
{
  "issuerName": "Store Name",
  "date": "YYYY-MM-DD",
  "subtotal": 0.00,
  "totalAmount": 0.00,
  "currency": "USD",
  "taxBreakdown": [{"rate": 0, "base": 0.00, "amount": 0.00}],
  "registrationNumber": "",
  "category": "",
  "confidence": {"issuerName": 0.0, "date": 0.0, "totalAmount": 0.0}
}

Important:
- If you cannot find a field, use null for that field and leave it out of "confidence"
- Amounts must be numbers, not strings
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

const systemPrompt = "You are an expert at reading and extracting information from receipts and invoices. You must carefully read all text in images and extract accurate information."
