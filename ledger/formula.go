package ledger

import (
	"fmt"
	"time"
)

// transactionRow builds the 17-column row (A through Q) for one transaction.
// Columns H through P are formulas that chain each row to the previous rows
// for the same ticker, so the running units, cost basis, and realized gains
// stay consistent when rows are appended out of band.
func transactionRow(tx Transaction, nextRow int, now time.Time) []interface{} {
	n := nextRow
	prev := nextRow - 1

	row := make([]interface{}, 17)
	row[0] = transactionDate(now)            // A: Date
	row[1] = tx.Action                       // B: Type (BUY/SELL)
	row[2] = tx.Symbol                       // C: Stock
	row[3] = tx.Quantity.String()            // D: Transacted Units
	row[4] = tx.Price.String()               // E: Transacted Price (per unit)
	row[5] = TransactionFee.String()         // F: Fees
	row[6] = ""                              // G: Stock Split Ratio

	// H: Previous Units
	row[7] = fmt.Sprintf(`=if($C%d="","",iferror(if(row()<>2,INDEX(arrayformula(filter($I$1:$I$%d,$C$1:$C$%d<>"",row($C$1:$C$%d)=max(if($C$1:$C$%d=C%d,row($C$1:$C$%d),0)))),1),0),0))`,
		n, prev, prev, prev, prev, n, prev)

	// I: Cumulative Units
	row[8] = fmt.Sprintf(`=if(C%d="","",if(B%d="Buy",H%d+D%d,if(B%d="Sell",H%d-D%d,if(or(B%d="Div",B%d="Fee"),H%d,if(B%d="Split",H%d*G%d,0)))))`,
		n, n, n, n, n, n, n, n, n, n, n, n, n)

	// J: Transacted Value
	row[9] = fmt.Sprintf(`=if(C%d="","",if(B%d="Buy",E%d*D%d+F%d,if(B%d="Sell",E%d*D%d-F%d,E%d*D%d-F%d)))`,
		n, n, n, n, n, n, n, n, n, n, n, n)

	// K: Previous Cost
	row[10] = fmt.Sprintf(`=if(C%d="","",iferror(if(row()<>2,INDEX(arrayformula(filter($N$1:$N$%d,$C$1:$C$%d<>"",row($C$1:$C$%d)=max(if($C$1:$C$%d=C%d,row($C$1:$C$%d),0)))),1),0),0))`,
		n, prev, prev, prev, prev, n, prev)

	// L: Cost of Transaction
	row[11] = fmt.Sprintf(`=if(C%d="","",if(B%d="Sell",if(H%d=0,0,D%d/H%d*K%d),"-"))`,
		n, n, n, n, n, n)

	// M: Avg Stock Price
	row[12] = fmt.Sprintf(`=if(C%d="","",if(B%d="Sell",if(H%d=0,0,K%d/H%d),"-"))`,
		n, n, n, n, n)

	// N: Cumulative Cost
	row[13] = fmt.Sprintf(`=if(C%d="","",if(B%d="Buy",K%d+J%d,if(or(B%d="Div",B%d="Fee"),K%d,if(B%d="Sell",if(K%d<=0,"Error.No Previous units.",K%d-L%d),if(B%d="Split",K%d,"Error")))))`,
		n, n, n, n, n, n, n, n, n, n, n, n, n)

	// O: Gains/Losses from Sale
	row[14] = fmt.Sprintf(`=if(C%d="","",if(B%d="Sell",J%d-L%d,if(or(B%d="Div",B%d="Fee"),J%d,0)))`,
		n, n, n, n, n, n, n)

	// P: Realised Gains/Losses %
	row[15] = fmt.Sprintf(`=if(C%d="","",if(B%d="Sell",(J%d-L%d)/L%d,""))`,
		n, n, n, n, n)

	row[16] = tx.Rationale // Q: Reason

	return row
}
