package domain

// Entities are the concrete values mentioned in an utterance.
type Entities struct {
	OrderNumbers []string `json:"order_numbers,omitempty"`
	Emails       []string `json:"emails,omitempty"`
	PhoneNumbers []string `json:"phone_numbers,omitempty"`
	Amounts      []string `json:"amounts,omitempty"`
	Dates        []string `json:"dates,omitempty"`
	Products     []string `json:"products,omitempty"`
}

func (e Entities) Empty() bool {
	return len(e.OrderNumbers) == 0 && len(e.Emails) == 0 && len(e.PhoneNumbers) == 0 &&
		len(e.Amounts) == 0 && len(e.Dates) == 0 && len(e.Products) == 0
}
