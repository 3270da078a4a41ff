/*
classify.go - Movement Classifier

PURPOSE:
  Maps a movement plus a perspective register to the signed effect on that
  register's balance. It is a pure function: same inputs, same result.

RULES:
  sale              credit destination
  evaluation_payout debit origin
  manual_credit     credit destination
  manual_debit      debit origin
  transfer          debit origin, credit destination

  Anything else for the perspective register is not applicable and must be
  left out of that register's totals. Unknown kinds are an error, never a
  silent zero.

USED BY:
  - ledger.go:    applying and reversing movements (live balance)
  - statement.go: extrato reconstruction
*/
package ledger

type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Effect is the classified result of a movement on one register.
type Effect struct {
	Register  RegisterID
	Direction Direction
	Amount    Money
}

// Delta is the signed balance change: +Amount for credit, -Amount for debit.
func (e Effect) Delta() Money {
	if e.Direction == Debit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Reverse returns the exact inverse effect.
func (e Effect) Reverse() Effect {
	r := e
	if e.Direction == Credit {
		r.Direction = Debit
	} else {
		r.Direction = Credit
	}
	return r
}

// Classify returns the effect of m on register. ok is false when m does not
// touch register in a role its kind gives meaning to.
func Classify(m Movement, register RegisterID) (effect Effect, ok bool, err error) {
	if register == "" {
		return Effect{}, false, nil
	}
	switch m.Kind {
	case KindSale, KindManualCredit:
		if m.Destination == register {
			return Effect{Register: register, Direction: Credit, Amount: m.Amount}, true, nil
		}
	case KindEvaluationPayout, KindManualDebit:
		if m.Origin == register {
			return Effect{Register: register, Direction: Debit, Amount: m.Amount}, true, nil
		}
	case KindTransfer:
		if m.Origin == register {
			return Effect{Register: register, Direction: Debit, Amount: m.Amount}, true, nil
		}
		if m.Destination == register {
			return Effect{Register: register, Direction: Credit, Amount: m.Amount}, true, nil
		}
	default:
		return Effect{}, false, &UnknownKindError{MovementID: m.ID, Kind: m.Kind}
	}
	return Effect{}, false, nil
}

// Effects returns every register effect of m, origin side first.
func Effects(m Movement) ([]Effect, error) {
	var effects []Effect
	for _, reg := range []RegisterID{m.Origin, m.Destination} {
		if reg == "" {
			continue
		}
		e, ok, err := Classify(m, reg)
		if err != nil {
			return nil, err
		}
		if ok {
			effects = append(effects, e)
		}
	}
	if !m.Kind.Valid() && len(effects) == 0 {
		return nil, &UnknownKindError{MovementID: m.ID, Kind: m.Kind}
	}
	return effects, nil
}

// Label is the statement caption for an effect of kind.
func Label(kind MovementKind, dir Direction) string {
	switch kind {
	case KindSale:
		return "Venda"
	case KindEvaluationPayout:
		return "Pagamento de avaliação"
	case KindManualCredit:
		return "Entrada manual"
	case KindManualDebit:
		return "Saída manual"
	case KindTransfer:
		if dir == Debit {
			return "Transferência enviada"
		}
		return "Transferência recebida"
	}
	return string(kind)
}
