package application

import "bargain/internal/service/bargain/domain"

// productFact 把商品展开为规则条件可以引用的 map
func productFact(pc domain.ProductContext) map[string]interface{} {
	p := pc.Product
	return map[string]interface{}{
		"product": map[string]interface{}{
			"id":           p.ID,
			"category":     string(p.Category),
			"name":         p.Name,
			"basePrice":    p.BasePrice,
			"currency":     p.Currency,
			"city":         p.City,
			"supplier":     p.Supplier,
			"airline":      p.Airline,
			"origin":       p.Origin,
			"destination":  p.Destination,
			"cabinClass":   p.CabinClass,
			"hotelId":      p.HotelID,
			"starRating":   p.StarRating,
			"roomCategory": p.RoomCategory,
			"countryCode":  p.CountryCode,
		},
		"user": map[string]interface{}{
			"type": string(pc.UserType),
		},
	}
}

func promoFact(req domain.PromoRequest) map[string]interface{} {
	return map[string]interface{}{
		"order": map[string]interface{}{
			"amount":   req.Amount,
			"category": string(req.Category),
			"country":  req.CountryCode,
			"city":     req.City,
		},
		"user": map[string]interface{}{
			"id": req.UserID,
		},
	}
}
