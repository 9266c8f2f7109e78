package service

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront/internal/model"
)

func pickup(id, name, region string, price int64) model.PickupLocation {
	return model.PickupLocation{ID: id, Name: name, Region: region, Price: decimal.NewFromInt(price)}
}

var pickupLocations = []model.PickupLocation{
	pickup("pm_001", "Nairobi CBD - Sasa Mall", "CBD", 120),
	pickup("pm_002", "Nairobi CBD - Imenti House", "CBD", 120),
	pickup("pm_003", "Westlands - The Mall", "Westlands", 150),
	pickup("pm_004", "Roysambu - TRM", "Thika Road", 180),
	pickup("pm_005", "Kahawa Wendani - Magunas", "Thika Road", 180),
	pickup("pm_006", "Eastleigh - Yare Towers", "Eastleigh", 150),
	pickup("pm_007", "Karen - Shopping Center", "Karen", 250),
	pickup("pm_008", "Ongata Rongai - Tuskys", "Rongai", 250),
	pickup("pm_009", "Juja - Juja City Mall", "Juja", 200),
	pickup("pm_010", "Thika - Ananas Mall", "Thika", 220),
	pickup("pm_011", "Utawala - Naivas", "Embakasi", 180),
	pickup("pm_012", "South B - Hazina", "South B", 150),
	pickup("pm_013", "Langata - Cleanshelf", "Langata", 200),
	pickup("pm_014", "Buruburu - The Point", "Eastlands", 150),
	pickup("pm_015", "Donholm - Greenspan", "Eastlands", 150),
}

// PickupLocations возвращает все пункты выдачи.
func (s *Service) PickupLocations() []model.PickupLocation {
	res := make([]model.PickupLocation, len(pickupLocations))
	copy(res, pickupLocations)
	return res
}

// SearchPickupLocations ищет пункты выдачи по подстроке названия или района
// без учёта регистра. Пустой запрос возвращает все пункты.
func (s *Service) SearchPickupLocations(query string) []model.PickupLocation {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return s.PickupLocations()
	}

	res := make([]model.PickupLocation, 0)
	for _, loc := range pickupLocations {
		if strings.Contains(strings.ToLower(loc.Name), q) || strings.Contains(strings.ToLower(loc.Region), q) {
			res = append(res, loc)
		}
	}
	return res
}

// PickupLocation возвращает пункт выдачи по идентификатору.
func (s *Service) PickupLocation(id string) (model.PickupLocation, bool) {
	for _, loc := range pickupLocations {
		if loc.ID == id {
			return loc, true
		}
	}
	return model.PickupLocation{}, false
}
