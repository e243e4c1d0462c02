package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dumeirei/loyalty-settlement/internal/common/errors"
)

// 交易来源
const (
	SourceMileage = "mileage"
	SourceCoupon  = "coupon"
)

// TransactionRef 参与结算的交易引用，仅写入 reportData
type TransactionRef struct {
	Source     string    `json:"source"`
	ID         int64     `json:"id"`
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Calculation 单个商户单个窗口的结算计算结果
type Calculation struct {
	BusinessID       int64
	PeriodStart      time.Time
	PeriodEnd        time.Time
	Amount           int64
	PlatformFee      int64
	VAT              int64
	NetAmount        int64
	TransactionCount int
	MileageUsed      int64
	CouponUsed       int64
	Transactions     []TransactionRef
}

// reportData 结算单附带的明细报告
type reportData struct {
	MileageUsed  int64            `json:"mileage_used"`
	CouponUsed   int64            `json:"coupon_used"`
	Transactions []TransactionRef `json:"transactions"`
}

// ReportData 序列化为结算单 reportData
func (c *Calculation) ReportData() (string, error) {
	txs := c.Transactions
	if txs == nil {
		txs = []TransactionRef{}
	}
	data, err := json.Marshal(reportData{
		MileageUsed:  c.MileageUsed,
		CouponUsed:   c.CouponUsed,
		Transactions: txs,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Calculator 结算计算器，只读交易流水
type Calculator struct {
	ledger  Ledger
	feeRate decimal.Decimal
	vatRate decimal.Decimal
}

// NewCalculator 创建结算计算器
func NewCalculator(ledger Ledger, platformFeeRate, vatRate float64) *Calculator {
	return &Calculator{
		ledger:  ledger,
		feeRate: decimal.NewFromFloat(platformFeeRate),
		vatRate: decimal.NewFromFloat(vatRate),
	}
}

// Fees 由总额计算平台费、增值税与净额
// 四舍五入到最小货币单位（远离零），净额不小于 0
func (c *Calculator) Fees(amount int64) (fee, vat, net int64) {
	fee = decimal.NewFromInt(amount).Mul(c.feeRate).Round(0).IntPart()
	vat = decimal.NewFromInt(fee).Mul(c.vatRate).Round(0).IntPart()
	net = amount - fee - vat
	if net < 0 {
		net = 0
	}
	return fee, vat, net
}

// Compute 计算商户在 [start, end) 内的结算数据
func (c *Calculator) Compute(ctx context.Context, businessID int64, start, end time.Time) (*Calculation, error) {
	if err := validatePeriod(start, end); err != nil {
		return nil, err
	}

	debits, err := c.ledger.MileageDebits(ctx, businessID, start, end)
	if err != nil {
		return nil, errors.ErrComputation.WithError(fmt.Errorf("mileage debits: %w", err))
	}
	redemptions, err := c.ledger.CouponRedemptions(ctx, businessID, start, end)
	if err != nil {
		return nil, errors.ErrComputation.WithError(fmt.Errorf("coupon redemptions: %w", err))
	}

	calc := &Calculation{
		BusinessID:   businessID,
		PeriodStart:  start,
		PeriodEnd:    end,
		Transactions: make([]TransactionRef, 0, len(debits)+len(redemptions)),
	}

	for _, tx := range debits {
		amount := tx.Amount
		if amount < 0 {
			amount = -amount
		}
		calc.MileageUsed += amount
		calc.Transactions = append(calc.Transactions, TransactionRef{
			Source:     SourceMileage,
			ID:         tx.ID,
			Amount:     amount,
			OccurredAt: tx.CreatedAt,
		})
	}

	for _, coupon := range redemptions {
		calc.CouponUsed += coupon.DiscountAmount
		ref := TransactionRef{
			Source: SourceCoupon,
			ID:     coupon.ID,
			Amount: coupon.DiscountAmount,
		}
		if coupon.UsedAt != nil {
			ref.OccurredAt = *coupon.UsedAt
		}
		calc.Transactions = append(calc.Transactions, ref)
	}

	calc.Amount = calc.MileageUsed + calc.CouponUsed
	calc.TransactionCount = len(debits) + len(redemptions)
	calc.PlatformFee, calc.VAT, calc.NetAmount = c.Fees(calc.Amount)

	return calc, nil
}
