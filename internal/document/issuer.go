package document

// Issuer is the billing party printed in the document header. It is static
// configuration, not part of the invoice record.
type Issuer struct {
	// Slug prefixes generated filenames
	Slug            string
	Name            string
	Subname         string
	Address         string
	City            string
	VAT             string
	Email           string
	CountryOfOrigin string
	// Logo is optional PNG or JPEG data
	Logo []byte
}

// DefaultIssuer is used when no issuer is configured
var DefaultIssuer = Issuer{
	Slug:            "omega",
	Name:            "OMEGA TEXTILE TRADING LTD.",
	Subname:         "Import & Export",
	Address:         "Merkez Mah. Ipek Sok. No: 12",
	City:            "34000 Istanbul, Turkey",
	VAT:             "TR1234567890",
	Email:           "billing@omega-textile.example",
	CountryOfOrigin: "Turkey",
}
