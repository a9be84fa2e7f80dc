package registrar

import "encoding/xml"

// Availability is the outcome of a domain availability check.
type Availability struct {
	Domain       string `json:"domain"`
	Available    bool   `json:"available"`
	Premium      bool   `json:"premium"`
	PremiumPrice string `json:"premiumPrice,omitempty"`
}

// Contact is the registrant contact block. The registrar requires it
// for every role, so one block is replicated on registration.
type Contact struct {
	FirstName     string `json:"firstName"     validate:"required"`
	LastName      string `json:"lastName"      validate:"required"`
	Address1      string `json:"address1"      validate:"required"`
	City          string `json:"city"          validate:"required"`
	StateProvince string `json:"stateProvince" validate:"required"`
	PostalCode    string `json:"postalCode"    validate:"required"`
	Country       string `json:"country"       validate:"required,len=2"`
	Phone         string `json:"phone"         validate:"required"`
	Email         string `json:"email"         validate:"required,email"`
}

// RegisterParams describes one registration purchase.
type RegisterParams struct {
	Domain  string  `json:"domain"  validate:"required,fqdn"`
	Years   int     `json:"years"   validate:"min=1,max=10"`
	Contact Contact `json:"contact" validate:"required"`
}

// Registration is the purchase receipt.
type Registration struct {
	Domain        string  `json:"domain"`
	ChargedAmount float64 `json:"chargedAmount"`
	DomainID      int64   `json:"domainId"`
	OrderID       int64   `json:"orderId"`
	TransactionID int64   `json:"transactionId"`
}

type apiResponse struct {
	XMLName xml.Name `xml:"ApiResponse"`
	Status  string   `xml:"Status,attr"`
	Errors  struct {
		Errors []apiError `xml:"Error"`
	} `xml:"Errors"`
	CommandResponse commandResponse `xml:"CommandResponse"`
}

type apiError struct {
	Number  string `xml:"Number,attr"`
	Message string `xml:",chardata"`
}

type commandResponse struct {
	DomainCheck  []domainCheckResult `xml:"DomainCheckResult"`
	DomainCreate *domainCreateResult `xml:"DomainCreateResult"`
	DNSSetCustom *dnsSetCustomResult `xml:"DomainDNSSetCustomResult"`
}

type domainCheckResult struct {
	Domain                   string `xml:"Domain,attr"`
	Available                bool   `xml:"Available,attr"`
	IsPremiumName            bool   `xml:"IsPremiumName,attr"`
	PremiumRegistrationPrice string `xml:"PremiumRegistrationPrice,attr"`
}

type domainCreateResult struct {
	Domain        string  `xml:"Domain,attr"`
	Registered    bool    `xml:"Registered,attr"`
	ChargedAmount float64 `xml:"ChargedAmount,attr"`
	DomainID      int64   `xml:"DomainID,attr"`
	OrderID       int64   `xml:"OrderID,attr"`
	TransactionID int64   `xml:"TransactionID,attr"`
}

type dnsSetCustomResult struct {
	Domain  string `xml:"Domain,attr"`
	Updated bool   `xml:"Updated,attr"`
}

func parseResponse(body []byte) (*apiResponse, error) {
	var resp apiResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (r *apiResponse) firstError() (string, string) {
	if len(r.Errors.Errors) == 0 {
		return "", ""
	}

	first := r.Errors.Errors[0]

	return first.Number, first.Message
}
