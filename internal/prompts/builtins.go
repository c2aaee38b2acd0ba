package prompts

type promptDef struct {
	template string
	schema   string
}

// builtinPrompts are the default templates shipped with the binary.
// Extraction schemas keep every field optional: a missing field on a
// bad scan should degrade the result, not invalidate it.
var builtinPrompts = map[string]promptDef{
	"extract_invoice": {
		template: `Extract structured data from this invoice. Return only JSON matching the schema. Use null for fields you cannot find.

Invoice text:
{TEXT}`,
		schema: `{
  "type": "object",
  "properties": {
    "invoice_number": {"type": ["string", "null"]},
    "vendor_name": {"type": ["string", "null"]},
    "customer_name": {"type": ["string", "null"]},
    "invoice_date": {"type": ["string", "null"]},
    "due_date": {"type": ["string", "null"]},
    "currency": {"type": ["string", "null"]},
    "subtotal": {"type": ["number", "null"]},
    "tax": {"type": ["number", "null"]},
    "total": {"type": ["number", "null"]},
    "line_items": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "description": {"type": ["string", "null"]},
          "quantity": {"type": ["number", "null"]},
          "unit_price": {"type": ["number", "null"]},
          "amount": {"type": ["number", "null"]}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`,
	},
	"extract_receipt": {
		template: `Extract structured data from this receipt. Return only JSON matching the schema. Use null for fields you cannot find.

Receipt text:
{TEXT}`,
		schema: `{
  "type": "object",
  "properties": {
    "merchant_name": {"type": ["string", "null"]},
    "merchant_address": {"type": ["string", "null"]},
    "transaction_date": {"type": ["string", "null"]},
    "payment_method": {"type": ["string", "null"]},
    "currency": {"type": ["string", "null"]},
    "subtotal": {"type": ["number", "null"]},
    "tax": {"type": ["number", "null"]},
    "tip": {"type": ["number", "null"]},
    "total": {"type": ["number", "null"]},
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": ["string", "null"]},
          "quantity": {"type": ["number", "null"]},
          "price": {"type": ["number", "null"]}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`,
	},
	"extract_contract": {
		template: `Extract structured data from this contract. Return only JSON matching the schema. Use null for fields you cannot find.

Contract text:
{TEXT}`,
		schema: `{
  "type": "object",
  "properties": {
    "title": {"type": ["string", "null"]},
    "parties": {"type": "array", "items": {"type": "string"}},
    "effective_date": {"type": ["string", "null"]},
    "expiration_date": {"type": ["string", "null"]},
    "governing_law": {"type": ["string", "null"]},
    "contract_value": {"type": ["number", "null"]},
    "key_obligations": {"type": "array", "items": {"type": "string"}},
    "termination_clause": {"type": ["string", "null"]}
  },
  "additionalProperties": false
}`,
	},
	"extract_report": {
		template: `Extract structured data from this report. Return only JSON matching the schema. Use null for fields you cannot find.

Report text:
{TEXT}`,
		schema: `{
  "type": "object",
  "properties": {
    "title": {"type": ["string", "null"]},
    "author": {"type": ["string", "null"]},
    "date": {"type": ["string", "null"]},
    "organization": {"type": ["string", "null"]},
    "key_findings": {"type": "array", "items": {"type": "string"}},
    "recommendations": {"type": "array", "items": {"type": "string"}}
  },
  "additionalProperties": false
}`,
	},
	"extract_resume": {
		template: `Extract structured data from this resume. Return only JSON matching the schema. Use null for fields you cannot find.

Resume text:
{TEXT}`,
		schema: `{
  "type": "object",
  "properties": {
    "name": {"type": ["string", "null"]},
    "email": {"type": ["string", "null"]},
    "phone": {"type": ["string", "null"]},
    "summary": {"type": ["string", "null"]},
    "skills": {"type": "array", "items": {"type": "string"}},
    "experience": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "company": {"type": ["string", "null"]},
          "title": {"type": ["string", "null"]},
          "start_date": {"type": ["string", "null"]},
          "end_date": {"type": ["string", "null"]},
          "description": {"type": ["string", "null"]}
        },
        "additionalProperties": false
      }
    },
    "education": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "institution": {"type": ["string", "null"]},
          "degree": {"type": ["string", "null"]},
          "year": {"type": ["string", "null"]}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`,
	},
	NameSummarize: {
		template: `Write a concise summary of the following document in 2-4 sentences. State what the document is and its key facts. Return only the summary text, nothing else.

Document:
{TEXT}`,
	},
	NameDetectPII: {
		template: `Identify personally identifiable information in the following document. Report each occurrence with its type. Valid types: email, phone, ssn, name, address, credit_card. Return only JSON matching the schema. Return an empty entities array if none found.

Document:
{TEXT}`,
		schema: `{
  "type": "object",
  "properties": {
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "type": {"type": "string", "enum": ["email", "phone", "ssn", "name", "address", "credit_card"]},
          "text": {"type": "string"}
        },
        "required": ["type", "text"],
        "additionalProperties": false
      }
    }
  },
  "required": ["entities"],
  "additionalProperties": false
}`,
	},
}
